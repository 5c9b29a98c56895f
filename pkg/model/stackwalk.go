package model

// StackwalkReport is the unwound and symbolicated view of every thread
type StackwalkReport struct {
	RequestingThreadID *uint32            `json:"requesting_thread_id,omitempty"`
	SymbolPaths        []string           `json:"symbol_paths"`
	SymbolicatedFrames int                `json:"symbolicated_frames"`
	ModulesWithSymbols int                `json:"modules_with_symbols"`
	Notes              []string           `json:"notes"`
	Threads            []ThreadStackTrace `json:"threads"`
}

// TotalFrames sums the frames of every thread
func (s *StackwalkReport) TotalFrames() int {
	n := 0
	for _, t := range s.Threads {
		n += len(t.Frames)
	}
	return n
}

// ThreadStackTrace is one thread's call stack, innermost frame first
type ThreadStackTrace struct {
	ThreadID           uint32           `json:"thread_id"`
	ThreadName         *string          `json:"thread_name,omitempty"`
	Status             string           `json:"status"`
	IsRequestingThread bool             `json:"is_requesting_thread"`
	Frames             []StackFrameInfo `json:"frames"`
}

// StackFrameInfo is a single frame
type StackFrameInfo struct {
	Index          int     `json:"index"`
	Instruction    uint64  `json:"instruction"`
	Module         *string `json:"module,omitempty"`
	ModuleBase     *uint64 `json:"module_base,omitempty"`
	ModuleOffset   *uint64 `json:"module_offset,omitempty"`
	Function       *string `json:"function,omitempty"`
	FunctionOffset *uint64 `json:"function_offset,omitempty"`
	SourceFile     *string `json:"source_file,omitempty"`
	SourceLine     *uint32 `json:"source_line,omitempty"`
	Trust          string  `json:"trust"`
}

// Package model holds the forensic report produced by one ingestion of a
// minidump. Values are built once and never mutated by consumers.
//
// Optional values are pointers: nil means the source stream was absent,
// which is different from a zero value.
package model

import (
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
)

// ModuleInfo is one loaded module and its address range [Base, Base+Size)
type ModuleInfo struct {
	Name          string  `json:"name"`
	Base          uint64  `json:"base"`
	Size          uint64  `json:"size"`
	Checksum      uint32  `json:"checksum"`
	TimeDateStamp uint32  `json:"time_date_stamp"`
	FileVersion   *string `json:"file_version,omitempty"`
}

// End returns the exclusive end of the module range
func (m ModuleInfo) End() uint64 {
	end := m.Base + m.Size
	if end < m.Base {
		return ^uint64(0)
	}
	return end
}

// Contains reports whether addr lies inside the module
func (m ModuleInfo) Contains(addr uint64) bool {
	return addr >= m.Base && addr < m.End()
}

// ThreadInfo merges the thread list with the optional name and extended
// info streams.
type ThreadInfo struct {
	ThreadID           uint32  `json:"thread_id"`
	Name               *string `json:"name,omitempty"`
	CreateTimeFiletime *uint64 `json:"create_time_filetime,omitempty"`
	CreateTimeUnix     *uint64 `json:"create_time_unix,omitempty"`
	StartAddress       *uint64 `json:"start_address,omitempty"`
	SuspendCount       uint32  `json:"suspend_count"`
	PriorityClass      uint32  `json:"priority_class"`
	Priority           uint32  `json:"priority"`
	Teb                uint64  `json:"teb"`
	StackStart         uint64  `json:"stack_start"`
	StackSize          uint64  `json:"stack_size"`
}

// ProcessInfo is synthesized from the misc info stream and the first module
type ProcessInfo struct {
	PID              *uint32 `json:"pid,omitempty"`
	CreateTimeUnix   *uint64 `json:"create_time_unix,omitempty"`
	IntegrityLevel   *uint32 `json:"integrity_level,omitempty"`
	ExecuteFlags     *uint32 `json:"execute_flags,omitempty"`
	ProtectedProcess *uint32 `json:"protected_process,omitempty"`
	MainImage        *string `json:"main_image,omitempty"`
	MainImageVersion *string `json:"main_image_version,omitempty"`
}

// Empty reports whether no field at all was recovered
func (p *ProcessInfo) Empty() bool {
	return p.PID == nil && p.CreateTimeUnix == nil && p.IntegrityLevel == nil &&
		p.ExecuteFlags == nil && p.ProtectedProcess == nil && p.MainImage == nil &&
		p.MainImageVersion == nil
}

// ExceptionInfo is the exception record of a crash dump
type ExceptionInfo struct {
	ThreadID         uint32 `json:"thread_id"`
	Code             uint32 `json:"code"`
	Flags            uint32 `json:"flags"`
	Address          uint64 `json:"address"`
	NumberParameters uint32 `json:"number_parameters"`
}

// ExecArtifactEncoding is the text encoding an artifact was recovered from
type ExecArtifactEncoding string

const (
	EncodingASCII   ExecArtifactEncoding = "ascii"
	EncodingUTF16LE ExecArtifactEncoding = "utf16-le"
)

// ProcessExecArtifact is a command line recovered from process memory
type ProcessExecArtifact struct {
	Image       string               `json:"image"`
	CommandLine string               `json:"command_line"`
	Encoding    ExecArtifactEncoding `json:"encoding"`
	Address     *uint64              `json:"address,omitempty"`
}

// InjectedRegion is one suspicious allocation, keyed by allocation base.
// Flags are the union over every contributing memory info entry. When
// FlagsUnknown is set the memory info stream was missing and the flag
// fields carry no information.
type InjectedRegion struct {
	Base         uint64                    `json:"base"`
	Size         uint64                    `json:"size"`
	Protection   minidump.MemoryProtection `json:"protection"`
	Type         minidump.MemoryType       `json:"type"`
	State        minidump.MemoryState      `json:"state"`
	FlagsUnknown bool                      `json:"flags_unknown,omitempty"`
	Reasons      []string                  `json:"reasons"`
	Risk         Severity                  `json:"risk"`
}

const unknownFlags = "unknown"

// ProtectionString renders the protection flags for display
func (r InjectedRegion) ProtectionString() string {
	if r.FlagsUnknown {
		return "unknown (memory info stream missing)"
	}
	return r.Protection.String()
}

// TypeString renders the memory type flags for display
func (r InjectedRegion) TypeString() string {
	if r.FlagsUnknown {
		return unknownFlags
	}
	return r.Type.String()
}

// StateString renders the memory state flags for display
func (r InjectedRegion) StateString() string {
	if r.FlagsUnknown {
		return unknownFlags
	}
	return r.State.String()
}

// Detection is a ranked finding derived from a report
type Detection struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Details  string   `json:"details"`
}

// MinidumpReport aggregates everything recovered from one dump
type MinidumpReport struct {
	OS      *string      `json:"os,omitempty"`
	CPU     *string      `json:"cpu,omitempty"`
	Process *ProcessInfo `json:"process,omitempty"`

	ExecArtifacts   []ProcessExecArtifact `json:"exec_artifacts"`
	InjectedRegions []InjectedRegion      `json:"injected_regions"`

	MemoryRegionCount     *int `json:"memory_region_count,omitempty"`
	MemoryRegion64Count   *int `json:"memory_region_64_count,omitempty"`
	MemoryInfoRegionCount *int `json:"memory_info_region_count,omitempty"`

	Modules   []ModuleInfo   `json:"modules"`
	Threads   []ThreadInfo   `json:"threads"`
	Exception *ExceptionInfo `json:"exception,omitempty"`

	Stackwalk      *StackwalkReport `json:"stackwalk,omitempty"`
	StackwalkError *string          `json:"stackwalk_error,omitempty"`
}

// LastThreadCreateTimeUnix returns the newest thread creation time, if any
func (r *MinidumpReport) LastThreadCreateTimeUnix() *uint64 {
	var last *uint64
	for i := range r.Threads {
		ct := r.Threads[i].CreateTimeUnix
		if ct != nil && (last == nil || *ct > *last) {
			v := *ct
			last = &v
		}
	}
	return last
}

// InModule reports whether addr falls inside any loaded module
func (r *MinidumpReport) InModule(addr uint64) bool {
	return ModuleAt(r.Modules, addr) != nil
}

// ModuleAt returns the module containing addr, or nil
func ModuleAt(modules []ModuleInfo, addr uint64) *ModuleInfo {
	for i := range modules {
		if modules[i].Contains(addr) {
			return &modules[i]
		}
	}
	return nil
}

// ExceptionStack returns the stack of the thread that raised the exception
func (r *MinidumpReport) ExceptionStack() *ThreadStackTrace {
	if r.Exception == nil {
		return nil
	}
	return r.StackwalkThread(r.Exception.ThreadID)
}

// StackwalkThread returns the walked stack for threadID
func (r *MinidumpReport) StackwalkThread(threadID uint32) *ThreadStackTrace {
	if r.Stackwalk == nil {
		return nil
	}
	for i := range r.Stackwalk.Threads {
		if r.Stackwalk.Threads[i].ThreadID == threadID {
			return &r.Stackwalk.Threads[i]
		}
	}
	return nil
}

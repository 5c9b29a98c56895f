package model

import (
	"fmt"
	"strings"

	"github.com/ineffectivecoder/DumpGooser/internal/timeutil"
)

// Summary is the short header shown when a dump is loaded
type Summary struct {
	FileSize      *uint64 `json:"file_size,omitempty"`
	TimeDateStamp *uint32 `json:"time_date_stamp,omitempty"`
	OS            *string `json:"os,omitempty"`
	CPU           *string `json:"cpu,omitempty"`
	ModuleCount   *int    `json:"module_count,omitempty"`
	ThreadCount   *int    `json:"thread_count,omitempty"`
	Exception     *string `json:"exception,omitempty"`
}

// Pretty renders the summary as plain text lines
func (s *Summary) Pretty() string {
	var lines []string

	if s.FileSize != nil {
		lines = append(lines, fmt.Sprintf("File size: %d bytes", *s.FileSize))
	}
	if s.TimeDateStamp != nil {
		lines = append(lines, fmt.Sprintf("TimeDateStamp (unix): %d", *s.TimeDateStamp))
		lines = append(lines, fmt.Sprintf("TimeDateStamp (utc): %s", timeutil.UnixToUTCString(uint64(*s.TimeDateStamp))))
	}
	if s.OS != nil {
		lines = append(lines, "OS: "+*s.OS)
	}
	if s.CPU != nil {
		lines = append(lines, "CPU: "+*s.CPU)
	}
	if s.ThreadCount != nil {
		lines = append(lines, fmt.Sprintf("Threads: %d", *s.ThreadCount))
	}
	if s.ModuleCount != nil {
		lines = append(lines, fmt.Sprintf("Modules: %d", *s.ModuleCount))
	}
	if s.Exception != nil {
		lines = append(lines, "Exception: "+*s.Exception)
	}

	if len(lines) == 0 {
		return "<no summary>"
	}
	return strings.Join(lines, "\n")
}

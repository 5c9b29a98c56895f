// Package stackwalk unwinds and symbolicates thread stacks by running an
// external minidump-stackwalk process and decoding its JSON output.
package stackwalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

// Notes attached to a stackwalk report
const (
	NoteNoSymbolPaths = "No symbol paths configured. Set DUMPGOOSER_SYMBOL_PATH or MINIDUMP_SYMBOL_PATH for Breakpad .sym lookup."
	NoteNoSymbols     = "No symbol files were loaded; frames may only have module + offset information."
)

// ErrDisabled is returned by Disabled
var ErrDisabled = errors.New("stackwalk disabled")

// Request describes one dump to walk
type Request struct {
	DumpPath    string
	SymbolPaths []string

	// Threads from the thread list, used to recover thread ids when the
	// walker output only carries thread indexes.
	Threads []model.ThreadInfo
}

// Walker unwinds every thread of a dump
type Walker interface {
	Walk(ctx context.Context, req Request) (*model.StackwalkReport, error)
}

// Disabled is a Walker that always fails with ErrDisabled
type Disabled struct{}

// Walk implements Walker
func (Disabled) Walk(context.Context, Request) (*model.StackwalkReport, error) {
	return nil, ErrDisabled
}

// ExternalWalker runs a minidump-stackwalk compatible binary
type ExternalWalker struct {
	Binary string
	Logger *logrus.Logger
}

// NewExternalWalker returns a walker for binary
func NewExternalWalker(binary string, logger *logrus.Logger) *ExternalWalker {
	return &ExternalWalker{Binary: binary, Logger: logger}
}

// Walk runs `<binary> --json <dump> [symbol paths...]`. The process is
// killed when ctx is cancelled.
func (w *ExternalWalker) Walk(ctx context.Context, req Request) (*model.StackwalkReport, error) {
	args := append([]string{"--json", req.DumpPath}, req.SymbolPaths...)
	cmd := exec.CommandContext(ctx, w.Binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log := w.logger().WithFields(logrus.Fields{
		"component": "stackwalk",
		"binary":    w.Binary,
		"dump":      req.DumpPath,
	})
	log.Debug("Running stackwalker")

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("stackwalk + symbolication failed: %w: %s", err, firstLine(msg))
		}
		return nil, fmt.Errorf("stackwalk + symbolication failed: %w", err)
	}

	report, err := Decode(out, req)
	if err != nil {
		log.WithError(err).Warn("Can't parse stackwalker output")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"threads":      len(report.Threads),
		"frames":       report.TotalFrames(),
		"symbolicated": report.SymbolicatedFrames,
	}).Debug("Stackwalk finished")
	return report, nil
}

func (w *ExternalWalker) logger() *logrus.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return logrus.StandardLogger()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// JSON shape of minidump-stackwalk --json output; only the fields used here

type processState struct {
	CrashInfo *struct {
		CrashingThread *int `json:"crashing_thread"`
	} `json:"crash_info"`
	RequestingThread *int          `json:"requesting_thread"`
	Modules          []moduleInfo  `json:"modules"`
	Threads          []threadState `json:"threads"`
}

type moduleInfo struct {
	BaseAddr      string `json:"base_addr"`
	Filename      string `json:"filename"`
	LoadedSymbols bool   `json:"loaded_symbols"`
}

type threadState struct {
	ThreadID   *uint32      `json:"thread_id"`
	ThreadName *string      `json:"thread_name"`
	Frames     []stackFrame `json:"frames"`
}

type stackFrame struct {
	Frame          int     `json:"frame"`
	Offset         string  `json:"offset"`
	Module         *string `json:"module"`
	ModuleOffset   *string `json:"module_offset"`
	Function       *string `json:"function"`
	FunctionOffset *string `json:"function_offset"`
	File           *string `json:"file"`
	Line           *uint32 `json:"line"`
	Trust          string  `json:"trust"`
}

func parseHex(s string) (uint64, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

func hexPtr(s *string) *uint64 {
	if s == nil {
		return nil
	}
	v, ok := parseHex(*s)
	if !ok {
		return nil
	}
	return &v
}

// Decode converts stackwalker JSON into a report
func Decode(data []byte, req Request) (*model.StackwalkReport, error) {
	var ps processState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse stackwalk json: %w", err)
	}

	moduleBases := make(map[string]uint64, len(ps.Modules))
	modulesWithSymbols := 0
	for _, m := range ps.Modules {
		if base, ok := parseHex(m.BaseAddr); ok {
			moduleBases[m.Filename] = base
		}
		if m.LoadedSymbols {
			modulesWithSymbols++
		}
	}

	requesting := ps.RequestingThread
	if requesting == nil && ps.CrashInfo != nil {
		requesting = ps.CrashInfo.CrashingThread
	}

	report := &model.StackwalkReport{
		SymbolPaths:        append([]string(nil), req.SymbolPaths...),
		ModulesWithSymbols: modulesWithSymbols,
	}

	for idx, t := range ps.Threads {
		trace := model.ThreadStackTrace{
			ThreadName:         t.ThreadName,
			Status:             "ok",
			IsRequestingThread: requesting != nil && *requesting == idx,
		}
		switch {
		case t.ThreadID != nil:
			trace.ThreadID = *t.ThreadID
		case idx < len(req.Threads):
			trace.ThreadID = req.Threads[idx].ThreadID
		}
		if trace.ThreadName == nil && idx < len(req.Threads) {
			trace.ThreadName = req.Threads[idx].Name
		}
		if len(t.Frames) == 0 {
			trace.Status = "no frames"
		}

		for i, f := range t.Frames {
			frame := model.StackFrameInfo{
				Index:          i,
				Module:         f.Module,
				ModuleOffset:   hexPtr(f.ModuleOffset),
				Function:       f.Function,
				FunctionOffset: hexPtr(f.FunctionOffset),
				SourceFile:     f.File,
				SourceLine:     f.Line,
				Trust:          f.Trust,
			}
			if ip, ok := parseHex(f.Offset); ok {
				frame.Instruction = ip
			}
			if f.Module != nil {
				if base, ok := moduleBases[*f.Module]; ok {
					frame.ModuleBase = &base
					if frame.ModuleOffset == nil && frame.Instruction >= base {
						off := frame.Instruction - base
						frame.ModuleOffset = &off
					}
				}
			}
			if f.Function != nil {
				report.SymbolicatedFrames++
			}
			trace.Frames = append(trace.Frames, frame)
		}

		if trace.IsRequestingThread {
			id := trace.ThreadID
			report.RequestingThreadID = &id
		}
		report.Threads = append(report.Threads, trace)
	}

	if len(report.SymbolPaths) == 0 {
		report.Notes = append(report.Notes, NoteNoSymbolPaths)
	}
	if report.ModulesWithSymbols == 0 {
		report.Notes = append(report.Notes, NoteNoSymbols)
	}
	return report, nil
}

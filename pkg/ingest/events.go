package ingest

import (
	"fmt"
	"strings"

	"github.com/ineffectivecoder/DumpGooser/internal/timeutil"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

// Event sources
const (
	SourceMinidump  = "ingest/minidump"
	SourceStackwalk = "ingest/stackwalk"
	SourceDetector  = "detector/basic"
)

// Narrative limits
const (
	artifactPreview = 12
	framePreview    = 10
)

// narrative assigns fixed synthetic offsets as events are appended
type narrative struct {
	store *model.EventStore
	tMs   uint64
}

func (n *narrative) add(delta uint64, sev model.Severity, title, details, source string) {
	n.tMs += delta
	n.store.Push(model.Event{
		TMs:      n.tMs,
		Severity: sev,
		Title:    title,
		Details:  details,
		Source:   source,
	})
}

// Narrate builds the ordered event timeline for an ingested dump
func Narrate(path string, fileSize uint64, summary *model.Summary, report *model.MinidumpReport, detections []model.Detection) *model.EventStore {
	n := &narrative{store: model.NewEventStore()}

	n.add(0, model.Info, "Minidump loaded",
		fmt.Sprintf("Path: %s\nSize: %d bytes", path, fileSize), SourceMinidump)
	n.add(10, model.Info, "Minidump summary", summary.Pretty(), SourceMinidump)

	if report.Process != nil {
		n.add(10, model.Info, "Process info", FormatProcessInfo(report.Process), SourceMinidump)
	}

	if len(report.ExecArtifacts) > 0 {
		n.add(10, model.Warning, "Execution artifacts recovered",
			FormatExecArtifacts(report.ExecArtifacts, artifactPreview), SourceMinidump)
	}

	if exc := report.Exception; exc != nil {
		n.add(10, model.High, "Exception stream present",
			fmt.Sprintf("thread_id=%d\ncode=0x%08X\naddress=0x%016X", exc.ThreadID, exc.Code, exc.Address),
			SourceMinidump)
	}

	if sw := report.Stackwalk; sw != nil {
		n.add(10, model.Info, "Stackwalk completed", FormatStackwalkSummary(sw), SourceStackwalk)
		if stack := report.ExceptionStack(); stack != nil && len(stack.Frames) > 0 {
			n.add(5, model.Info, "Exception thread call stack",
				FormatStackPreview(stack, framePreview), SourceStackwalk)
		}
	} else if report.StackwalkError != nil {
		n.add(10, model.Warning, "Stackwalk failed", *report.StackwalkError, SourceStackwalk)
	}

	for _, det := range detections {
		n.add(5, det.Severity, "Detection: "+det.Title, det.Details, SourceDetector)
	}

	return n.store
}

// FormatProcessInfo renders the recovered process fields one per line
func FormatProcessInfo(p *model.ProcessInfo) string {
	var lines []string
	if p.MainImage != nil {
		lines = append(lines, "Main image: "+*p.MainImage)
	}
	if p.MainImageVersion != nil {
		lines = append(lines, "Main version: "+*p.MainImageVersion)
	}
	if p.PID != nil {
		lines = append(lines, fmt.Sprintf("PID: %d", *p.PID))
	}
	if p.CreateTimeUnix != nil {
		lines = append(lines, fmt.Sprintf("Create time (unix): %d", *p.CreateTimeUnix))
		lines = append(lines, "Create time (utc): "+timeutil.UnixToUTCString(*p.CreateTimeUnix))
	}
	if p.IntegrityLevel != nil {
		lines = append(lines, fmt.Sprintf("Integrity level: %d", *p.IntegrityLevel))
	}
	if p.ExecuteFlags != nil {
		lines = append(lines, fmt.Sprintf("Execute flags: 0x%08X", *p.ExecuteFlags))
	}
	if p.ProtectedProcess != nil {
		lines = append(lines, fmt.Sprintf("Protected process: %d", *p.ProtectedProcess))
	}

	if len(lines) == 0 {
		return "<no process info>"
	}
	return strings.Join(lines, "\n")
}

func encodingTag(enc model.ExecArtifactEncoding) string {
	if enc == model.EncodingUTF16LE {
		return "utf16le"
	}
	return "ascii"
}

// FormatExecArtifacts lists at most limit artifacts
func FormatExecArtifacts(arts []model.ProcessExecArtifact, limit int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recovered: %d\n\n", len(arts))
	for i, a := range arts {
		if i >= limit {
			break
		}
		fmt.Fprintf(&sb, "%3d. [%s] %s\n     %s\n", i+1, encodingTag(a.Encoding), a.Image, a.CommandLine)
	}
	if len(arts) > limit {
		fmt.Fprintf(&sb, "... (%d more)\n", len(arts)-limit)
	}
	return sb.String()
}

// FormatStackwalkSummary renders the stackwalk counters and notes
func FormatStackwalkSummary(sw *model.StackwalkReport) string {
	lines := []string{
		fmt.Sprintf("threads_walked=%d", len(sw.Threads)),
		fmt.Sprintf("total_frames=%d", sw.TotalFrames()),
		fmt.Sprintf("symbolicated_frames=%d", sw.SymbolicatedFrames),
		fmt.Sprintf("modules_with_symbols=%d", sw.ModulesWithSymbols),
	}
	if sw.RequestingThreadID != nil {
		lines = append(lines, fmt.Sprintf("requesting_thread=0x%X", *sw.RequestingThreadID))
	}
	if len(sw.SymbolPaths) > 0 {
		lines = append(lines, "symbol_paths="+strings.Join(sw.SymbolPaths, "; "))
	}
	if len(sw.Notes) > 0 {
		lines = append(lines, "", "Notes:")
		for _, note := range sw.Notes {
			lines = append(lines, "- "+note)
		}
	}
	return strings.Join(lines, "\n")
}

// FormatFrame renders one frame as "#NN 0xIP module!function+0xOFF"
func FormatFrame(f model.StackFrameInfo) string {
	module := "<no-module>"
	if f.Module != nil {
		module = *f.Module
	}
	function := "<unknown>"
	if f.Function != nil {
		function = *f.Function
	}

	s := fmt.Sprintf("#%02d 0x%016X %s!%s", f.Index, f.Instruction, module, function)
	switch {
	case f.FunctionOffset != nil:
		s += fmt.Sprintf("+0x%X", *f.FunctionOffset)
	case f.ModuleOffset != nil:
		s += fmt.Sprintf("+0x%X", *f.ModuleOffset)
	}
	return s
}

// FormatStackPreview renders the first limit frames of stack
func FormatStackPreview(stack *model.ThreadStackTrace, limit int) string {
	name := "-"
	if stack.ThreadName != nil {
		name = *stack.ThreadName
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "thread_id=0x%X name=%s\nframes=%d\n\n", stack.ThreadID, name, len(stack.Frames))
	for i, f := range stack.Frames {
		if i >= limit {
			break
		}
		sb.WriteString(FormatFrame(f))
		sb.WriteByte('\n')
	}
	if len(stack.Frames) > limit {
		fmt.Fprintf(&sb, "... (%d more)\n", len(stack.Frames)-limit)
	}
	return sb.String()
}

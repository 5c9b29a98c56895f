package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ineffectivecoder/DumpGooser/internal/timeutil"
	"github.com/ineffectivecoder/DumpGooser/pkg/ingest"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
	"github.com/ineffectivecoder/DumpGooser/pkg/rules"
)

func registerViewCommands() {
	commands.Register(&Command{
		Name:        "overview",
		Aliases:     []string{"summary", "info"},
		Description: "Show the dump summary and stream counts",
		Handler:     cmdOverview,
	})

	commands.Register(&Command{
		Name:        "process",
		Aliases:     []string{"proc"},
		Description: "Show process info",
		Handler:     cmdProcess,
	})

	commands.Register(&Command{
		Name:        "modules",
		Aliases:     []string{"lm"},
		Description: "List loaded modules",
		Usage:       "modules [filter]",
		Handler:     cmdModules,
	})

	commands.Register(&Command{
		Name:        "threads",
		Description: "List threads",
		Handler:     cmdThreads,
	})

	commands.Register(&Command{
		Name:        "exception",
		Aliases:     []string{"exc"},
		Description: "Show the exception record",
		Handler:     cmdException,
	})

	commands.Register(&Command{
		Name:        "stack",
		Aliases:     []string{"k"},
		Description: "Show a walked call stack",
		Usage:       "stack [tid|all]  (default: exception thread)",
		Handler:     cmdStack,
	})

	commands.Register(&Command{
		Name:        "detections",
		Aliases:     []string{"dets"},
		Description: "List detections, highest severity first",
		Usage:       "detections [info|warn|high]",
		Handler:     cmdDetections,
	})

	commands.Register(&Command{
		Name:        "artifacts",
		Aliases:     []string{"cmdlines"},
		Description: "List recovered execution artifacts",
		Handler:     cmdArtifacts,
	})

	commands.Register(&Command{
		Name:        "injected",
		Description: "List suspicious executable allocations",
		Handler:     cmdInjected,
	})

	commands.Register(&Command{
		Name:        "events",
		Aliases:     []string{"timeline"},
		Description: "Show the event timeline",
		Usage:       "events [info|warn|high]",
		Handler:     cmdEvents,
	})

	commands.Register(&Command{
		Name:        "event",
		Description: "Show one event in full",
		Usage:       "event <id>",
		Handler:     cmdEvent,
	})
}

func severityColor(s model.Severity) string {
	switch s {
	case model.High:
		return colorRed
	case model.Warning:
		return colorYellow
	default:
		return colorCyan
	}
}

func severityTag(s model.Severity) string {
	return fmt.Sprintf("%s%-4s%s", severityColor(s), s.Label(), colorReset)
}

func minSeverity(args []string) (model.Severity, error) {
	if len(args) == 0 {
		return model.Info, nil
	}
	return model.ParseSeverity(args[0])
}

func optCount(n *int) string {
	if n == nil {
		return "(stream absent)"
	}
	return strconv.Itoa(*n)
}

func printIndented(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Printf("    %s\n", line)
	}
}

func cmdOverview(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	r := current.Report

	fmt.Printf("\n%sSummary:%s\n", colorBold, colorReset)
	printIndented(current.Summary.Pretty())

	fmt.Printf("\n%sStreams:%s\n", colorBold, colorReset)
	fmt.Printf("  %-22s %s\n", "Memory regions:", optCount(r.MemoryRegionCount))
	fmt.Printf("  %-22s %s\n", "Memory64 regions:", optCount(r.MemoryRegion64Count))
	fmt.Printf("  %-22s %s\n", "Memory info entries:", optCount(r.MemoryInfoRegionCount))

	if last := r.LastThreadCreateTimeUnix(); last != nil {
		fmt.Printf("  %-22s %s\n", "Newest thread:", timeutil.UnixToUTCString(*last))
	}

	counts := rules.Counts(current.Detections())
	fmt.Printf("\n%sTriage:%s\n", colorBold, colorReset)
	fmt.Printf("  %-22s %d\n", "Execution artifacts:", len(r.ExecArtifacts))
	fmt.Printf("  %-22s %d\n", "Injected regions:", len(r.InjectedRegions))
	fmt.Printf("  %-22s %s%d high%s, %s%d warn%s, %d info\n", "Detections:",
		colorRed, counts[model.High], colorReset,
		colorYellow, counts[model.Warning], colorReset,
		counts[model.Info])
	fmt.Printf("  %-22s %d bytes (%d regions)", "Scanned:", current.Scan.BytesScanned, current.Scan.RegionsScanned)
	if current.Scan.Capped {
		fmt.Printf(" %s[capped]%s", colorYellow, colorReset)
	}
	fmt.Println()

	switch {
	case r.Stackwalk != nil:
		fmt.Printf("  %-22s %d threads, %d frames\n", "Stackwalk:", len(r.Stackwalk.Threads), r.Stackwalk.TotalFrames())
	case r.StackwalkError != nil:
		fmt.Printf("  %-22s %sfailed%s: %s\n", "Stackwalk:", colorYellow, colorReset, *r.StackwalkError)
	}
	fmt.Println()
	return nil
}

func cmdProcess(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	if current.Report.Process == nil {
		return fmt.Errorf("no process info recovered")
	}

	fmt.Printf("\n%sProcess:%s\n", colorBold, colorReset)
	printIndented(ingest.FormatProcessInfo(current.Report.Process))
	fmt.Println()
	return nil
}

func cmdModules(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}

	filter := ""
	if len(args) > 0 {
		filter = strings.ToLower(args[0])
	}

	fmt.Println()
	fmt.Printf("  %-18s %-10s %-16s %s\n", "BASE", "SIZE", "VERSION", "NAME")
	fmt.Println("  " + strings.Repeat("-", 80))

	shown := 0
	for _, m := range current.Report.Modules {
		if filter != "" && !strings.Contains(strings.ToLower(m.Name), filter) {
			continue
		}
		version := "-"
		if m.FileVersion != nil {
			version = *m.FileVersion
		}
		fmt.Printf("  0x%016X %-10s %-16s %s\n", m.Base, fmt.Sprintf("0x%X", m.Size), version, m.Name)
		shown++
	}

	fmt.Printf("\n  %d of %d module(s)\n\n", shown, len(current.Report.Modules))
	return nil
}

func cmdThreads(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	r := current.Report

	fmt.Println()
	fmt.Printf("  %-8s %-18s %-24s %-8s %s\n", "TID", "START", "CREATED (UTC)", "SUSPEND", "NAME")
	fmt.Println("  " + strings.Repeat("-", 90))

	for _, t := range r.Threads {
		start := "-"
		if t.StartAddress != nil {
			start = fmt.Sprintf("0x%016X", *t.StartAddress)
			if !r.InModule(*t.StartAddress) {
				start = colorRed + start + colorReset
			}
		}
		created := "-"
		if t.CreateTimeUnix != nil {
			created = timeutil.UnixToUTCString(*t.CreateTimeUnix)
		}
		name := "-"
		if t.Name != nil {
			name = *t.Name
		}
		fmt.Printf("  0x%-6X %-18s %-24s %-8d %s\n", t.ThreadID, start, created, t.SuspendCount, name)
	}

	fmt.Printf("\n  %d thread(s)\n\n", len(r.Threads))
	return nil
}

func cmdException(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	exc := current.Report.Exception
	if exc == nil {
		return fmt.Errorf("dump has no exception stream")
	}

	fmt.Printf("\n%sException:%s\n", colorBold, colorReset)
	fmt.Printf("  %-15s 0x%X\n", "Thread:", exc.ThreadID)
	fmt.Printf("  %-15s 0x%08X\n", "Code:", exc.Code)
	fmt.Printf("  %-15s 0x%08X\n", "Flags:", exc.Flags)
	fmt.Printf("  %-15s 0x%016X", "Address:", exc.Address)
	if m := model.ModuleAt(current.Report.Modules, exc.Address); m != nil {
		fmt.Printf(" (%s+0x%X)", m.Name, exc.Address-m.Base)
	}
	fmt.Println()
	fmt.Printf("  %-15s %d\n", "Parameters:", exc.NumberParameters)
	fmt.Println()
	return nil
}

func printStack(stack *model.ThreadStackTrace) {
	name := "-"
	if stack.ThreadName != nil {
		name = *stack.ThreadName
	}
	marker := ""
	if stack.IsRequestingThread {
		marker = colorRed + " [requesting]" + colorReset
	}
	fmt.Printf("\n%sThread 0x%X%s %s (%s)%s\n", colorBold, stack.ThreadID, colorReset, name, stack.Status, marker)
	for _, f := range stack.Frames {
		line := "  " + ingest.FormatFrame(f)
		if f.SourceFile != nil && f.SourceLine != nil {
			line += fmt.Sprintf(" [%s:%d]", *f.SourceFile, *f.SourceLine)
		}
		if verbose && f.Trust != "" {
			line += " (" + f.Trust + ")"
		}
		fmt.Println(line)
	}
}

func cmdStack(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	r := current.Report
	if r.Stackwalk == nil {
		if r.StackwalkError != nil {
			return fmt.Errorf("stackwalk unavailable: %s", *r.StackwalkError)
		}
		return fmt.Errorf("stackwalk unavailable")
	}

	switch {
	case len(args) > 0 && strings.EqualFold(args[0], "all"):
		for i := range r.Stackwalk.Threads {
			printStack(&r.Stackwalk.Threads[i])
		}
	case len(args) > 0:
		tid, err := parseUint(args[0])
		if err != nil {
			return fmt.Errorf("invalid thread id: %s", args[0])
		}
		stack := r.StackwalkThread(uint32(tid))
		if stack == nil {
			return fmt.Errorf("no stack for thread 0x%X", tid)
		}
		printStack(stack)
	default:
		stack := r.ExceptionStack()
		if stack == nil {
			return fmt.Errorf("no exception thread stack (try 'stack all')")
		}
		printStack(stack)
	}
	fmt.Println()
	return nil
}

// sortedDetections orders by severity, keeping rule order within a level
func sortedDetections(dets []model.Detection) []model.Detection {
	out := make([]model.Detection, 0, len(dets))
	for _, sev := range []model.Severity{model.High, model.Warning, model.Info} {
		for _, d := range dets {
			if d.Severity == sev {
				out = append(out, d)
			}
		}
	}
	return out
}

func cmdDetections(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	floor, err := minSeverity(args)
	if err != nil {
		return err
	}

	dets := sortedDetections(current.Detections())
	fmt.Println()
	shown := 0
	for _, d := range dets {
		if d.Severity < floor {
			continue
		}
		shown++
		fmt.Printf("  %s %s%s%s\n", severityTag(d.Severity), colorBold, d.Title, colorReset)
		printIndented(d.Details)
		fmt.Println()
	}
	if shown == 0 {
		success_("No detections at or above %s", floor)
	}
	return nil
}

func cmdArtifacts(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	arts := current.Report.ExecArtifacts
	if len(arts) == 0 {
		info_("No execution artifacts recovered")
		return nil
	}

	fmt.Println()
	for i, a := range arts {
		addr := "-"
		if a.Address != nil {
			addr = fmt.Sprintf("0x%016X", *a.Address)
		}
		fmt.Printf("  %3d. %s [%s] %s%s%s\n", i+1, addr, a.Encoding, colorBold, a.Image, colorReset)
		fmt.Printf("       %s\n", a.CommandLine)
	}
	fmt.Printf("\n  %d artifact(s)\n\n", len(arts))
	return nil
}

func cmdInjected(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	regions := current.Report.InjectedRegions
	if len(regions) == 0 {
		success_("No suspicious executable allocations")
		return nil
	}

	fmt.Println()
	for _, reg := range regions {
		fmt.Printf("  %s 0x%016X size=0x%X\n", severityTag(reg.Risk), reg.Base, reg.Size)
		fmt.Printf("       %s / %s / %s\n", reg.ProtectionString(), reg.TypeString(), reg.StateString())
		for _, reason := range reg.Reasons {
			fmt.Printf("       - %s\n", reason)
		}
	}
	fmt.Println()
	return nil
}

func cmdEvents(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	floor, err := minSeverity(args)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  %-5s %-8s %-5s %-18s %s\n", "ID", "T+MS", "SEV", "SOURCE", "TITLE")
	fmt.Println("  " + strings.Repeat("-", 80))
	for _, ev := range current.Events.Filter(floor) {
		fmt.Printf("  %-5d %-8d %s  %-18s %s\n", ev.ID, ev.TMs, severityTag(ev.Severity), ev.Source, ev.Title)
	}
	fmt.Println()
	return nil
}

func cmdEvent(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: event <id>")
	}
	id, err := parseUint(args[0])
	if err != nil {
		return fmt.Errorf("invalid event id: %s", args[0])
	}
	ev, ok := current.Events.Get(model.EventID(id))
	if !ok {
		return fmt.Errorf("no event %d", id)
	}

	fmt.Println()
	fmt.Println("  " + strings.Repeat("=", 70))
	fmt.Printf("  %-10s %s%s%s\n", "Title:", colorBold, ev.Title, colorReset)
	fmt.Printf("  %-10s %s\n", "Severity:", severityTag(ev.Severity))
	fmt.Printf("  %-10s T+%dms\n", "Offset:", ev.TMs)
	fmt.Printf("  %-10s %s\n", "Source:", ev.Source)
	fmt.Println("  " + strings.Repeat("-", 70))
	printIndented(ev.Details)
	fmt.Println("  " + strings.Repeat("=", 70))
	fmt.Println()
	return nil
}

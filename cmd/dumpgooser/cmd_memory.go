package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ineffectivecoder/DumpGooser/internal/encoding"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

const (
	defaultPeekLen = 0x80
	maxPeekLen     = 0x10000
	maxSearchHits  = 25
)

func registerMemoryCommands() {
	commands.Register(&Command{
		Name:        "regions",
		Description: "List captured memory regions",
		Usage:       "regions [limit]",
		Handler:     cmdRegions,
	})

	commands.Register(&Command{
		Name:        "meminfo",
		Aliases:     []string{"vprot"},
		Description: "Show protection info for an address",
		Usage:       "meminfo <address>",
		Handler:     cmdMemInfo,
	})

	commands.Register(&Command{
		Name:        "peek",
		Aliases:     []string{"db"},
		Description: "Hex dump captured memory",
		Usage:       "peek <address> [length]",
		Handler:     cmdPeek,
	})

	commands.Register(&Command{
		Name:        "search",
		Aliases:     []string{"s"},
		Description: "Interactive search over memory, artifacts and events",
		Usage:       "search",
		Handler:     cmdSearch,
	})
}

func cmdRegions(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}

	limit := 50
	if len(args) > 0 {
		n, err := parseUint(args[0])
		if err != nil {
			return fmt.Errorf("invalid limit: %s", args[0])
		}
		limit = int(n)
	}

	regions := current.Dump.MemoryRegions()
	fmt.Println()
	fmt.Printf("  %-18s %-18s %-10s %s\n", "BASE", "END", "SIZE", "MODULE")
	fmt.Println("  " + strings.Repeat("-", 70))
	for i, r := range regions {
		if i >= limit {
			fmt.Printf("  ... (%d more)\n", len(regions)-limit)
			break
		}
		owner := "-"
		if m := model.ModuleAt(current.Report.Modules, r.Base); m != nil {
			owner = m.Name
		}
		fmt.Printf("  0x%016X 0x%016X %-10s %s\n", r.Base, r.End(), fmt.Sprintf("0x%X", len(r.Bytes)), owner)
	}
	fmt.Println()
	return nil
}

func cmdMemInfo(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: meminfo <address>")
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	list, err := current.Dump.MemoryInfoList()
	if err != nil {
		return fmt.Errorf("memory info unavailable: %w", err)
	}
	mi, ok := list.At(addr)
	if !ok {
		return fmt.Errorf("no memory info covers 0x%X", addr)
	}

	fmt.Println()
	fmt.Printf("  %-18s 0x%016X\n", "Base:", mi.BaseAddress)
	fmt.Printf("  %-18s 0x%016X\n", "Allocation base:", mi.AllocationBase)
	fmt.Printf("  %-18s 0x%X\n", "Region size:", mi.RegionSize)
	fmt.Printf("  %-18s %s\n", "State:", mi.State)
	fmt.Printf("  %-18s %s\n", "Protect:", mi.Protect)
	fmt.Printf("  %-18s %s\n", "Alloc protect:", mi.AllocationProtect)
	fmt.Printf("  %-18s %s\n", "Type:", mi.Type)
	if m := model.ModuleAt(current.Report.Modules, addr); m != nil {
		fmt.Printf("  %-18s %s+0x%X\n", "Module:", m.Name, addr-m.Base)
	}
	fmt.Println()
	return nil
}

func cmdPeek(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: peek <address> [length]")
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	length := uint64(defaultPeekLen)
	if len(args) > 1 {
		if length, err = parseUint(args[1]); err != nil {
			return fmt.Errorf("invalid length: %s", args[1])
		}
	}
	if length == 0 || length > maxPeekLen {
		return fmt.Errorf("length must be between 1 and 0x%X", maxPeekLen)
	}

	data, err := current.Dump.ReadVA(addr, int(length))
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Print(hexdump(addr, data))
	if uint64(len(data)) < length {
		warn_("Region ends after 0x%X bytes", len(data))
	}
	fmt.Println()
	return nil
}

// hexdump renders 16 bytes per row prefixed with the virtual address
func hexdump(addr uint64, data []byte) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		fmt.Fprintf(&sb, "  %016X  ", addr+uint64(off))
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&sb, "%02x", row[i])
			} else {
				sb.WriteString("  ")
			}
			if i == 7 {
				sb.WriteString("-")
			} else {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(" ")
		for _, c := range row {
			if c >= 0x20 && c <= 0x7E {
				sb.WriteByte(c)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// memoryHit is one match of a search needle
type memoryHit struct {
	Addr     uint64
	Encoding string
	Context  []byte
}

// searchMemory finds needle as ASCII and UTF-16LE in every captured region
func searchMemory(regions []minidump.MemoryRegion, needle string, limit int) []memoryHit {
	patterns := []struct {
		enc string
		pat []byte
	}{
		{"ascii", []byte(needle)},
		{"utf16le", encoding.ToUTF16LE(needle)},
	}

	var hits []memoryHit
	for _, r := range regions {
		for _, p := range patterns {
			data := r.Bytes
			pos := 0
			for len(hits) < limit {
				i := bytes.Index(data[pos:], p.pat)
				if i < 0 {
					break
				}
				at := pos + i
				end := at + 48
				if end > len(data) {
					end = len(data)
				}
				hits = append(hits, memoryHit{Addr: r.Base + uint64(at), Encoding: p.enc, Context: data[at:end]})
				pos = at + len(p.pat)
			}
		}
		if len(hits) >= limit {
			break
		}
	}
	return hits
}

func printableContext(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch {
		case c == 0:
			continue
		case c >= 0x20 && c <= 0x7E:
			out = append(out, c)
		default:
			out = append(out, '.')
		}
	}
	return string(out)
}

// cmdSearch runs a sub-shell for repeated searches over the loaded dump
func cmdSearch(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}

	info_("Search mode - type 'help' for syntax, 'exit' to leave")
	fmt.Println()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%ssearch>%s ", colorCyan, colorReset),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	regions := current.Dump.MemoryRegions()

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		verb, rest, _ := strings.Cut(input, " ")
		rest = strings.TrimSpace(rest)

		switch strings.ToLower(verb) {
		case "exit", "quit":
			return nil
		case "help":
			printSearchHelp()
		case "art", "artifact":
			searchArtifacts(rest)
		case "ev", "event":
			searchEvents(rest)
		case "mod", "module":
			searchModules(rest)
		case "mem":
			runMemorySearch(regions, rest)
		default:
			runMemorySearch(regions, input)
		}
	}

	return nil
}

func runMemorySearch(regions []minidump.MemoryRegion, needle string) {
	if len(needle) < 3 {
		error_("Search text must be at least 3 characters")
		return
	}
	hits := searchMemory(regions, needle, maxSearchHits)
	if len(hits) == 0 {
		warn_("No matches for %q", needle)
		return
	}
	for _, h := range hits {
		fmt.Printf("  0x%016X [%-7s] %s\n", h.Addr, h.Encoding, printableContext(h.Context))
	}
	if len(hits) == maxSearchHits {
		info_("Stopped after %d matches", maxSearchHits)
	}
}

func searchArtifacts(needle string) {
	needle = strings.ToLower(needle)
	n := 0
	for _, a := range current.Report.ExecArtifacts {
		if strings.Contains(strings.ToLower(a.CommandLine), needle) {
			fmt.Printf("  [%s] %s\n", a.Encoding, a.CommandLine)
			n++
		}
	}
	info_("%d artifact(s) matched", n)
}

func searchEvents(needle string) {
	needle = strings.ToLower(needle)
	n := 0
	for _, ev := range current.Events.All() {
		if strings.Contains(strings.ToLower(ev.Title), needle) ||
			strings.Contains(strings.ToLower(ev.Details), needle) {
			fmt.Printf("  %-5d %s %s\n", ev.ID, severityTag(ev.Severity), ev.Title)
			n++
		}
	}
	info_("%d event(s) matched", n)
}

func searchModules(needle string) {
	needle = strings.ToLower(needle)
	n := 0
	for _, m := range current.Report.Modules {
		if strings.Contains(strings.ToLower(m.Name), needle) {
			fmt.Printf("  0x%016X %s\n", m.Base, m.Name)
			n++
		}
	}
	info_("%d module(s) matched", n)
}

func printSearchHelp() {
	fmt.Println("\n  Search Mode:")
	fmt.Println("  " + strings.Repeat("-", 40))
	fmt.Println("  <text>       Search memory (ascii + utf16le)")
	fmt.Println("  mem <text>   Same as above")
	fmt.Println("  art <text>   Filter execution artifacts")
	fmt.Println("  ev <text>    Filter events by title/details")
	fmt.Println("  mod <text>   Filter modules by name")
	fmt.Println("  exit, quit   Leave search mode")
	fmt.Println()
}

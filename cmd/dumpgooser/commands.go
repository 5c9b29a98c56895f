package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Command represents a shell command
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     func(ctx context.Context, args []string) error
}

// CommandRegistry holds all available commands
type CommandRegistry struct {
	commands map[string]*Command
}

// Global command registry
var commands = NewCommandRegistry()

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]*Command),
	}
}

// Register adds a command to the registry
func (r *CommandRegistry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.commands[alias] = cmd
	}
}

// Get retrieves a command by name or alias
func (r *CommandRegistry) Get(name string) *Command {
	return r.commands[name]
}

// List returns all unique commands sorted by name
func (r *CommandRegistry) List() []*Command {
	seen := make(map[string]bool)
	var list []*Command

	for _, cmd := range r.commands {
		if !seen[cmd.Name] {
			seen[cmd.Name] = true
			list = append(list, cmd)
		}
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})

	return list
}

// executeCommand runs a command by name
func executeCommand(ctx context.Context, name string, args []string) bool {
	cmd := commands.Get(name)
	if cmd == nil {
		error_("Unknown command: %s (type 'help' for commands)", name)
		return true
	}

	if err := cmd.Handler(ctx, args); err != nil {
		error_("%v", err)
	}

	// Return false if we should exit
	return cmd.Name != "exit"
}

// Initialize all commands
func init() {
	registerCoreCommands()
	registerViewCommands()
	registerMemoryCommands()
	registerExportCommands()
}

// registerCoreCommands registers basic commands
func registerCoreCommands() {
	commands.Register(&Command{
		Name:        "help",
		Aliases:     []string{"?", "h"},
		Description: "Show available commands",
		Usage:       "help [command]",
		Handler:     cmdHelp,
	})

	commands.Register(&Command{
		Name:        "exit",
		Aliases:     []string{"quit", "q"},
		Description: "Exit the shell",
		Handler:     cmdExit,
	})

	commands.Register(&Command{
		Name:        "load",
		Aliases:     []string{"open"},
		Description: "Load a minidump in the background",
		Usage:       "load <path> [-wait]",
		Handler:     cmdLoad,
	})

	commands.Register(&Command{
		Name:        "status",
		Description: "Show the loaded dump and any load in progress",
		Handler:     cmdStatus,
	})

	commands.Register(&Command{
		Name:        "cancel",
		Description: "Cancel the load in progress",
		Handler:     cmdCancel,
	})

	commands.Register(&Command{
		Name:        "clear",
		Aliases:     []string{"cls"},
		Description: "Clear the screen",
		Handler:     cmdClear,
	})
}

// Command handlers
func cmdHelp(ctx context.Context, args []string) error {
	if len(args) > 0 {
		// Show help for specific command
		cmd := commands.Get(args[0])
		if cmd == nil {
			return fmt.Errorf("unknown command: %s", args[0])
		}
		fmt.Printf("\n%s%s%s - %s\n", colorBold, cmd.Name, colorReset, cmd.Description)
		if cmd.Usage != "" {
			fmt.Printf("Usage: %s\n", cmd.Usage)
		}
		if len(cmd.Aliases) > 0 {
			fmt.Printf("Aliases: %s\n", strings.Join(cmd.Aliases, ", "))
		}
		fmt.Println()
		return nil
	}

	// Show all commands grouped by category
	fmt.Println()
	fmt.Printf("%s=== DumpGooser Commands ===%s\n\n", colorBold, colorReset)

	categories := map[string][]string{
		"Core":     {"help", "exit", "load", "status", "cancel", "clear"},
		"Report":   {"overview", "process", "modules", "threads", "exception", "stack"},
		"Triage":   {"detections", "artifacts", "injected", "events", "event"},
		"Memory":   {"regions", "meminfo", "peek", "search"},
		"Export":   {"export", "metrics"},
	}

	order := []string{"Core", "Report", "Triage", "Memory", "Export"}

	for _, cat := range order {
		fmt.Printf("%s%s:%s\n", colorCyan, cat, colorReset)
		for _, name := range categories[cat] {
			cmd := commands.Get(name)
			if cmd != nil {
				fmt.Printf("  %-12s %s\n", cmd.Name, cmd.Description)
			}
		}
		fmt.Println()
	}

	return nil
}

func cmdExit(ctx context.Context, args []string) error {
	loader.Cancel()
	info_("Goodbye! 🪿")
	return nil
}

func cmdLoad(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: load <path> [-wait]")
	}
	path := args[0]

	wait := len(args) > 1 && (args[1] == "-wait" || args[1] == "--wait")
	if wait {
		return loadAndWait(ctx, path)
	}

	if prev, running := loader.Pending(); running {
		warn_("Superseding load of %s", prev)
	}
	loader.Load(ctx, path)
	info_("Loading %s in the background, type 'status' to check", path)
	return nil
}

func cmdStatus(ctx context.Context, args []string) error {
	pollLoader()

	fmt.Println()
	if current == nil {
		fmt.Printf("  %-15s %s\n", "Loaded:", "(none)")
	} else {
		fmt.Printf("  %-15s %s\n", "Loaded:", current.Path)
		fmt.Printf("  %-15s %s\n", "Ingest time:", current.Duration)
	}
	if path, running := loader.Pending(); running {
		fmt.Printf("  %-15s %s%s%s\n", "Loading:", colorYellow, path, colorReset)
	}
	fmt.Println()
	return nil
}

func cmdCancel(ctx context.Context, args []string) error {
	path, running := loader.Pending()
	if !running {
		return fmt.Errorf("no load in progress")
	}
	loader.Cancel()
	info_("Cancelled load of %s", path)
	return nil
}

func cmdClear(ctx context.Context, args []string) error {
	fmt.Print("\033[H\033[2J")
	return nil
}

// requireDump returns an error when nothing is loaded yet
func requireDump() error {
	pollLoader()
	if current == nil {
		if _, running := loader.Pending(); running {
			return fmt.Errorf("dump still loading, try again shortly")
		}
		return fmt.Errorf("no dump loaded (use 'load <path>')")
	}
	return nil
}

// parseUint accepts decimal or 0x-prefixed hex
func parseUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "`", "")
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// parseAddress treats bare numbers as hex, the way debuggers do
func parseAddress(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.ReplaceAll(s, "`", "")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %s", s)
	}
	return v, nil
}

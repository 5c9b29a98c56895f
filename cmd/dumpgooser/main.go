package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/mjwhitta/cli"
	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/ineffectivecoder/DumpGooser/pkg/config"
	"github.com/ineffectivecoder/DumpGooser/pkg/debug"
	"github.com/ineffectivecoder/DumpGooser/pkg/ingest"
	"github.com/ineffectivecoder/DumpGooser/pkg/metrics"
)

// Version info
const (
	Version = "0.1.0"
	Banner  = "DumpGooser"
)

// ASCII art goose, now with a magnifying glass
const gooseBanner = `
                                   ___
                               ,-""   ` + "`" + `.
                             ,'  _   e )` + "`" + `-._
                            /  ,' ` + "`" + `-._<.===-'
                           /  /
                          /  ;
              _.--.__    /   ;
 (` + "`" + `._    _.-""       "--'    |
 <_  ` + "`" + `-""                     \
  <` + "`" + `-                          :
   (__   <__.                  ;
     ` + "`" + `-.   '-.__.      _.'    /
        \      ` + "`" + `-.__,-'    _,'
         ` + "`" + `._    ,    /__,-'    HONK HONK!
            ""._\__,'< <____       DumpGooser v%s
                 | |  ` + "`" + `---._` + "`" + `-.   Minidump Triage Tool
                 | |        ` + "`" + `\ ` + "`" + `\
                 ; |___,.--""` + "`" + `` + "`" + `-'
                 \/--'
`

// Colors for output. Cleared when stdout is not a terminal.
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Global state
var (
	verbose  bool
	cfg      *config.Config
	logger   *logrus.Logger
	ingester *ingest.Ingester
	loader   *ingest.Loader
	recorder *metrics.Recorder
	current  *ingest.Ingested
)

func main() {
	var (
		symbolPath  string
		stackwalker string
		noStackwalk bool
		maxScan     int
		maxArts     int
		logLevel    string
		logJSON     bool
		noColor     bool
		execCmd     string
		shell       bool
	)

	// Configure CLI
	cli.Align = true
	cli.Banner = "dumpgooser [OPTIONS] [minidump.dmp]"
	cli.Info("Minidump triage - execution artifacts, injected memory, stacks, and detections")
	cli.Authors = []string{"DumpGooser Team"}

	// Define flags
	cli.Flag(&symbolPath, "s", "symbols", "", "Extra symbol search paths (path list)")
	cli.Flag(&stackwalker, "w", "stackwalker", config.DefaultStackwalker, "Stackwalk binary")
	cli.Flag(&noStackwalk, "n", "no-stackwalk", false, "Skip stack unwinding")
	cli.Flag(&maxScan, "max-scan", config.DefaultMaxScanBytes, "Max bytes of memory to scan for artifacts")
	cli.Flag(&maxArts, "max-artifacts", config.DefaultMaxArtifacts, "Max execution artifacts to keep")
	cli.Flag(&logLevel, "l", "log-level", "warn", "Log level (debug, info, warn, error)")
	cli.Flag(&logJSON, "log-json", false, "Log as JSON")
	cli.Flag(&noColor, "no-color", false, "Disable colored output")
	cli.Flag(&execCmd, "x", "exec", "", "Execute command(s) and exit (semicolon separated)")
	cli.Flag(&shell, "i", "interactive", true, "Start interactive shell (default)")
	cli.Flag(&verbose, "v", "verbose", false, "Verbose output")

	cli.Parse()

	if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		disableColors()
	}

	// Print banner
	printBanner()

	cfg = config.Default()
	cfg.StackwalkBinary = stackwalker
	cfg.DisableStackwalk = noStackwalk
	cfg.MaxScanBytes = maxScan
	cfg.MaxArtifacts = maxArts
	cfg.LogLevel = logLevel
	cfg.LogJSON = logJSON
	if verbose {
		cfg.LogLevel = "debug"
	}
	if symbolPath != "" {
		cfg.SymbolPaths = strings.Split(symbolPath, string(os.PathListSeparator))
	}

	logger = newLogger(cfg)
	cfg.FromEnv(logger)
	logger.SetLevel(cfg.Level())
	debug.SetLogger(logger)

	if err := cfg.Validate(); err != nil {
		error_("Invalid configuration: %v", err)
		cli.Usage(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	recorder = metrics.NewRecorder()
	ingester = ingest.New(cfg, logger)
	ingester.Metrics = recorder
	loader = ingest.NewLoader(ingester)

	debug_("Symbol paths: %s", strings.Join(cfg.SymbolPaths, "; "))

	if cli.NArg() > 0 {
		if err := loadAndWait(ctx, cli.Arg(0)); err != nil {
			error_("%v", err)
			if execCmd != "" || !shell {
				os.Exit(1)
			}
		}
	}

	// Execute commands or start interactive shell
	if execCmd != "" {
		for _, cmd := range strings.Split(execCmd, ";") {
			cmd = strings.TrimSpace(cmd)
			if cmd == "" {
				continue
			}
			args := parseArgs(cmd)
			if len(args) > 0 {
				if !executeCommand(ctx, strings.ToLower(args[0]), args[1:]) {
					break
				}
			}
		}
		return
	}

	if shell {
		runShell(ctx)
	}
}

func newLogger(c *config.Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(c.Level())
	if c.LogJSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return l
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorBold = "", "", ""
}

func printBanner() {
	fmt.Printf(colorCyan+gooseBanner+colorReset, Version)
	fmt.Println()
}

// loadAndWait ingests path in the foreground. Ctrl-C cancels it.
func loadAndWait(ctx context.Context, path string) error {
	info_("Loading %s...", path)
	loader.Load(ctx, path)

	res, err := loader.Wait(ctx)
	if err != nil {
		loader.Cancel()
		return fmt.Errorf("load cancelled: %w", err)
	}
	return adopt(res)
}

// adopt makes a finished load the current dump
func adopt(res *ingest.Result) error {
	if res == nil {
		return fmt.Errorf("load was cancelled")
	}
	if res.Err != nil {
		return fmt.Errorf("failed to load %s: %w", res.Path, res.Err)
	}

	current = res.Ingested
	dets := current.Detections()
	success_("Loaded %s (%d bytes) in %s", res.Path, *current.Summary.FileSize,
		current.Duration.Round(time.Millisecond))
	if len(dets) > 0 {
		warn_("%d detection(s), type 'detections' to review", len(dets))
	}
	if current.Report.StackwalkError != nil {
		debug_("Stackwalk: %s", *current.Report.StackwalkError)
	}
	return nil
}

// pollLoader picks up a background load that finished since the last prompt
func pollLoader() {
	if res, ok := loader.Poll(); ok {
		if err := adopt(res); err != nil {
			error_("%v", err)
		}
	}
}

func runShell(ctx context.Context) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	// Set up tab completion
	line.SetCompleter(func(input string) []string {
		return completeInput(input)
	})

	for {
		pollLoader()

		input, err := line.Prompt(buildPrompt())
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Println("^C")
				continue
			}
			break // EOF or error
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		args := parseArgs(input)
		if len(args) == 0 {
			continue
		}

		if !executeCommand(ctx, strings.ToLower(args[0]), args[1:]) {
			break
		}
	}
}

// completeInput completes command names, then dump paths for load
func completeInput(input string) []string {
	parts := strings.Fields(input)

	if len(parts) == 0 || (len(parts) == 1 && !strings.HasSuffix(input, " ")) {
		prefix := ""
		if len(parts) == 1 {
			prefix = strings.ToLower(parts[0])
		}
		return completeCommands(prefix)
	}

	cmd := strings.ToLower(parts[0])
	if cmd == "load" || cmd == "open" {
		pathArg := ""
		if len(parts) > 1 && !strings.HasSuffix(input, " ") {
			pathArg = parts[len(parts)-1]
		}
		return completeLocalPaths(pathArg, input)
	}
	return nil
}

// completeCommands returns command names matching prefix
func completeCommands(prefix string) []string {
	var matches []string
	seen := make(map[string]bool)

	for _, cmd := range commands.List() {
		if strings.HasPrefix(strings.ToLower(cmd.Name), prefix) && !seen[cmd.Name] {
			matches = append(matches, cmd.Name)
			seen[cmd.Name] = true
		}
	}

	sort.Strings(matches)
	return matches
}

// completeLocalPaths completes file names on the local disk
func completeLocalPaths(pathArg, fullInput string) []string {
	dir, prefix := ".", pathArg
	if i := strings.LastIndexAny(pathArg, `/\`); i >= 0 {
		dir, prefix = pathArg[:i+1], pathArg[i+1:]
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	baseInput := strings.TrimSuffix(fullInput, pathArg)
	var matches []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		if dir != "." {
			name = dir + name
		}
		matches = append(matches, baseInput+name)
	}

	sort.Strings(matches)
	return matches
}

func buildPrompt() string {
	parts := []string{colorBold + "[DumpGooser]" + colorReset}

	if current != nil {
		name := current.Path
		if i := strings.LastIndexAny(name, `/\`); i >= 0 {
			name = name[i+1:]
		}
		parts = append(parts, colorCyan+name+colorReset)
	}
	if _, running := loader.Pending(); running {
		parts = append(parts, colorYellow+"(loading)"+colorReset)
	}

	return strings.Join(parts, " ") + "> "
}

func parseArgs(line string) []string {
	// Simple arg parsing - splits on spaces, handles quotes
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	for _, r := range line {
		switch {
		case r == '"' || r == '\'':
			if inQuote && r == quoteChar {
				inQuote = false
			} else if !inQuote {
				inQuote = true
				quoteChar = r
			} else {
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	return args
}

// Output helpers
func info_(format string, args ...interface{}) {
	fmt.Printf(colorCyan+"[*]"+colorReset+" "+format+"\n", args...)
}

func success_(format string, args ...interface{}) {
	fmt.Printf(colorGreen+"[+]"+colorReset+" "+format+"\n", args...)
}

func error_(format string, args ...interface{}) {
	fmt.Printf(colorRed+"[!]"+colorReset+" "+format+"\n", args...)
}

func warn_(format string, args ...interface{}) {
	fmt.Printf(colorYellow+"[-]"+colorReset+" "+format+"\n", args...)
}

func debug_(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(colorBlue+"[D]"+colorReset+" "+format+"\n", args...)
	}
}

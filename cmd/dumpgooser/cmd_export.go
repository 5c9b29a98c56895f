package main

import (
	"context"
	"fmt"

	"github.com/ineffectivecoder/DumpGooser/pkg/export"
)

func registerExportCommands() {
	commands.Register(&Command{
		Name:        "export",
		Description: "Write the report, detections and events as JSON",
		Usage:       "export <path|-> [-pretty]",
		Handler:     cmdExport,
	})

	commands.Register(&Command{
		Name:        "metrics",
		Description: "Write ingestion metrics in Prometheus textfile format",
		Usage:       "metrics <path>",
		Handler:     cmdMetrics,
	})
}

func cmdExport(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: export <path|-> [-pretty]")
	}

	pretty := false
	for _, a := range args[1:] {
		if a == "-pretty" || a == "--pretty" || a == "-p" {
			pretty = true
		}
	}

	doc := export.NewDocument(current.Path, current.Summary, current.Report, current.Events)
	if err := export.WriteFile(args[0], doc, pretty); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if args[0] != "-" {
		success_("Exported %d detection(s) and %d event(s) to %s", len(doc.Detections), len(doc.Events), args[0])
	}
	return nil
}

func cmdMetrics(ctx context.Context, args []string) error {
	if err := requireDump(); err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: metrics <path>")
	}
	if err := recorder.WriteTextfile(args[0]); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	success_("Metrics written to %s", args[0])
	return nil
}

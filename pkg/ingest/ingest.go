// Package ingest runs the full analysis of one minidump: parse, normalize,
// scan for execution artifacts, detect injected memory, walk stacks and
// build the event narrative.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ineffectivecoder/DumpGooser/pkg/config"
	"github.com/ineffectivecoder/DumpGooser/pkg/execscan"
	"github.com/ineffectivecoder/DumpGooser/pkg/injection"
	"github.com/ineffectivecoder/DumpGooser/pkg/metrics"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
	"github.com/ineffectivecoder/DumpGooser/pkg/normalize"
	"github.com/ineffectivecoder/DumpGooser/pkg/rules"
	"github.com/ineffectivecoder/DumpGooser/pkg/stackwalk"
)

// Ingested is the result of one successful ingestion
type Ingested struct {
	Path     string
	Summary  *model.Summary
	Report   *model.MinidumpReport
	Events   *model.EventStore
	Dump     *minidump.Dump
	Scan     execscan.Stats
	Duration time.Duration
}

// Detections re-derives the ranked detections from the report
func (i *Ingested) Detections() []model.Detection {
	return rules.Evaluate(i.Report)
}

// Ingester holds what an ingestion needs. Metrics is optional.
type Ingester struct {
	Config  *config.Config
	Walker  stackwalk.Walker
	Logger  *logrus.Logger
	Metrics *metrics.Recorder
}

// New returns an ingester for cfg. The walker is picked from the config.
func New(cfg *config.Config, logger *logrus.Logger) *Ingester {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var walker stackwalk.Walker = stackwalk.Disabled{}
	if !cfg.DisableStackwalk {
		walker = stackwalk.NewExternalWalker(cfg.StackwalkBinary, logger)
	}

	return &Ingester{Config: cfg, Walker: walker, Logger: logger}
}

// Ingest analyzes the dump at path. Only an unreadable file or a broken
// container is an error; every optional stream degrades to absent fields.
// ctx is checked between stages and passed to the stackwalker.
func (ing *Ingester) Ingest(ctx context.Context, path string) (*Ingested, error) {
	start := time.Now()
	log := ing.logger().WithFields(logrus.Fields{
		"component": "ingest",
		"path":      path,
	})

	dump, err := minidump.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse minidump: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	norm := normalize.Normalize(dump, ing.logger())

	fileSize := uint64(dump.Size())
	timeDateStamp := dump.Header.TimeDateStamp
	summary := &model.Summary{
		FileSize:      &fileSize,
		TimeDateStamp: &timeDateStamp,
		OS:            norm.OS,
		CPU:           norm.CPU,
		ModuleCount:   norm.ModuleCount,
		ThreadCount:   norm.ThreadCount,
	}

	report := &model.MinidumpReport{
		OS:                    norm.OS,
		CPU:                   norm.CPU,
		Process:               norm.Process,
		MemoryRegionCount:     norm.MemoryRegionCount,
		MemoryRegion64Count:   norm.MemoryRegion64Count,
		MemoryInfoRegionCount: norm.MemoryInfoRegionCount,
		Modules:               norm.Modules,
		Threads:               norm.Threads,
		Exception:             norm.Exception,
	}

	scanner := execscan.New(ing.cfg().MaxScanBytes, ing.cfg().MaxArtifacts)
	artifacts, stats := scanner.Scan(norm.ScanRegions)
	report.ExecArtifacts = artifacts
	log.WithFields(logrus.Fields{
		"bytes":     stats.BytesScanned,
		"regions":   stats.RegionsScanned,
		"raw_hits":  stats.RawHits,
		"artifacts": len(artifacts),
		"capped":    stats.Capped,
	}).Debug("Memory scanned")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.InjectedRegions = injection.Detect(injection.Input{
		Modules:    report.Modules,
		Threads:    report.Threads,
		Artifacts:  report.ExecArtifacts,
		MemoryInfo: norm.MemoryInfo,
	})

	if exc := report.Exception; exc != nil {
		s := fmt.Sprintf("thread_id=%d code=0x%08X addr=0x%016X", exc.ThreadID, exc.Code, exc.Address)
		summary.Exception = &s
	}

	if err := ing.walk(ctx, path, report); err != nil {
		return nil, err
	}

	ingested := &Ingested{
		Path:     path,
		Summary:  summary,
		Report:   report,
		Dump:     dump,
		Scan:     stats,
		Duration: time.Since(start),
	}
	detections := ingested.Detections()
	ingested.Events = Narrate(path, fileSize, summary, report, detections)

	if ing.Metrics != nil {
		ing.Metrics.Record(metrics.Observation{
			Report:     report,
			Detections: detections,
			Scan:       stats,
			Duration:   ingested.Duration,
		})
	}

	log.WithFields(logrus.Fields{
		"modules":    len(report.Modules),
		"threads":    len(report.Threads),
		"artifacts":  len(report.ExecArtifacts),
		"injected":   len(report.InjectedRegions),
		"detections": len(detections),
		"duration":   ingested.Duration,
	}).Info("Minidump ingested")

	return ingested, nil
}

// walk fills the stackwalk fields. A walker failure is recorded on the
// report; only cancellation aborts.
func (ing *Ingester) walk(ctx context.Context, path string, report *model.MinidumpReport) error {
	walker := ing.Walker
	if walker == nil {
		walker = stackwalk.Disabled{}
	}

	sw, err := walker.Walk(ctx, stackwalk.Request{
		DumpPath:    path,
		SymbolPaths: ing.cfg().SymbolPaths,
		Threads:     report.Threads,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		msg := err.Error()
		report.StackwalkError = &msg
		ing.logger().WithField("component", "ingest").WithError(err).Debug("Stackwalk unavailable")
		return nil
	}
	report.Stackwalk = sw
	return nil
}

func (ing *Ingester) cfg() *config.Config {
	if ing.Config == nil {
		ing.Config = config.Default()
	}
	return ing.Config
}

func (ing *Ingester) logger() *logrus.Logger {
	if ing.Logger != nil {
		return ing.Logger
	}
	return logrus.StandardLogger()
}

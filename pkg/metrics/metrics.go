// Package metrics records per-ingestion gauges on a private Prometheus
// registry. The CLI writes them out in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ineffectivecoder/DumpGooser/pkg/execscan"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

// Observation is what one ingestion reports
type Observation struct {
	Report     *model.MinidumpReport
	Detections []model.Detection
	Scan       execscan.Stats
	Duration   time.Duration
}

// Recorder owns the registry and gauges
type Recorder struct {
	registry *prometheus.Registry

	bytesScanned     prometheus.Gauge
	scanCapped       prometheus.Gauge
	artifacts        prometheus.Gauge
	injectedRegions  *prometheus.GaugeVec
	detections       *prometheus.GaugeVec
	modules          prometheus.Gauge
	threads          prometheus.Gauge
	ingestDuration   prometheus.Gauge
	stackwalkSuccess prometheus.Gauge
	lastIngest       prometheus.Gauge
}

// NewRecorder registers every gauge on a fresh registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		bytesScanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dumpgooser_scan_bytes",
			Help: "Bytes of process memory inspected by the artifact scanner",
		}),
		scanCapped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dumpgooser_scan_capped",
			Help: "Whether the artifact scanner stopped at a limit (1=yes)",
		}),
		artifacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dumpgooser_exec_artifacts",
			Help: "Execution artifacts recovered after deduplication",
		}),
		injectedRegions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dumpgooser_injected_regions",
			Help: "Suspicious executable allocations by risk",
		}, []string{"risk"}),
		detections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dumpgooser_detections",
			Help: "Detections by severity",
		}, []string{"severity"}),
		modules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dumpgooser_modules",
			Help: "Loaded modules in the dump",
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dumpgooser_threads",
			Help: "Threads in the dump",
		}),
		ingestDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dumpgooser_ingest_duration_seconds",
			Help: "Wall time of the last ingestion",
		}),
		stackwalkSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dumpgooser_stackwalk_success",
			Help: "Whether the stackwalk of the last ingestion succeeded (1=yes)",
		}),
		lastIngest: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dumpgooser_last_ingest_timestamp_seconds",
			Help: "Unix time the last ingestion finished",
		}),
	}

	r.registry.MustRegister(
		r.bytesScanned,
		r.scanCapped,
		r.artifacts,
		r.injectedRegions,
		r.detections,
		r.modules,
		r.threads,
		r.ingestDuration,
		r.stackwalkSuccess,
		r.lastIngest,
	)
	return r
}

// Registry exposes the private registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Record replaces the gauges with obs
func (r *Recorder) Record(obs Observation) {
	r.injectedRegions.Reset()
	r.detections.Reset()

	for _, sev := range []model.Severity{model.High, model.Warning, model.Info} {
		r.injectedRegions.WithLabelValues(sev.String()).Set(0)
		r.detections.WithLabelValues(sev.String()).Set(0)
	}

	r.bytesScanned.Set(float64(obs.Scan.BytesScanned))
	r.scanCapped.Set(boolGauge(obs.Scan.Capped))
	r.ingestDuration.Set(obs.Duration.Seconds())
	r.lastIngest.SetToCurrentTime()

	for _, d := range obs.Detections {
		r.detections.WithLabelValues(d.Severity.String()).Inc()
	}

	if rep := obs.Report; rep != nil {
		r.artifacts.Set(float64(len(rep.ExecArtifacts)))
		r.modules.Set(float64(len(rep.Modules)))
		r.threads.Set(float64(len(rep.Threads)))
		r.stackwalkSuccess.Set(boolGauge(rep.Stackwalk != nil))
		for _, reg := range rep.InjectedRegions {
			r.injectedRegions.WithLabelValues(reg.Risk.String()).Inc()
		}
	}
}

// WriteTextfile writes the registry to path for the node-exporter textfile
// collector
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

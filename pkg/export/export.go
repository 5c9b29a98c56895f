// Package export writes an analyzed dump as a single JSON document.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ineffectivecoder/DumpGooser/pkg/model"
	"github.com/ineffectivecoder/DumpGooser/pkg/rules"
)

// Document is the exported form of one analyzed dump
type Document struct {
	ExportedAt time.Time             `json:"exported_at"`
	Path       string                `json:"path"`
	Summary    *model.Summary        `json:"summary"`
	Report     *model.MinidumpReport `json:"report"`
	Detections []model.Detection     `json:"detections"`
	Events     []model.Event         `json:"events"`
}

// NewDocument assembles a document. Detections are derived from the report
// at export time.
func NewDocument(path string, summary *model.Summary, report *model.MinidumpReport, events *model.EventStore) *Document {
	doc := &Document{
		ExportedAt: time.Now().UTC(),
		Path:       path,
		Summary:    summary,
		Report:     report,
		Detections: rules.Evaluate(report),
	}
	if events != nil {
		doc.Events = events.All()
	}
	if doc.Detections == nil {
		doc.Detections = []model.Detection{}
	}
	return doc
}

// Write encodes doc to w
func Write(w io.Writer, doc *Document, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// WriteFile writes doc to path; "-" means stdout
func WriteFile(path string, doc *Document, pretty bool) error {
	if path == "-" {
		return Write(os.Stdout, doc, pretty)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Write(f, doc, pretty); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

func sampleDocument() *Document {
	report := &model.MinidumpReport{
		Exception: &model.ExceptionInfo{ThreadID: 1, Code: 0xC0000005, Address: 0x10},
	}
	events := model.NewEventStore(model.Event{Title: "Minidump loaded"})
	return NewDocument("crash.dmp", &model.Summary{}, report, events)
}

func TestNewDocumentDerivesDetections(t *testing.T) {
	doc := sampleDocument()
	require.Len(t, doc.Detections, 1)
	assert.Equal(t, "Access violation", doc.Detections[0].Title)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, model.EventID(1), doc.Events[0].ID)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleDocument(), false))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "crash.dmp", decoded["path"])

	dets := decoded["detections"].([]interface{})
	require.Len(t, dets, 1)
	assert.Equal(t, "high", dets[0].(map[string]interface{})["severity"])
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteFile(path, sampleDocument(), true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"path\": \"crash.dmp\"")

	err = WriteFile(filepath.Join(t.TempDir(), "missing", "out.json"), sampleDocument(), false)
	assert.Error(t, err)
}

func TestEmptyDetectionsEncodeAsArray(t *testing.T) {
	doc := NewDocument("x", nil, &model.MinidumpReport{}, nil)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, doc, false))
	assert.Contains(t, buf.String(), `"detections":[]`)
}

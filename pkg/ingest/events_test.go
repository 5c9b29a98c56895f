package ingest

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

func writeBytes(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func u32(v uint32) *uint32 { return &v }
func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func TestFormatProcessInfo(t *testing.T) {
	p := &model.ProcessInfo{
		MainImage:      str(`C:\app.exe`),
		PID:            u32(4242),
		CreateTimeUnix: u64(1704067200),
		ExecuteFlags:   u32(0x4D),
	}
	want := "Main image: C:\\app.exe\n" +
		"PID: 4242\n" +
		"Create time (unix): 1704067200\n" +
		"Create time (utc): 2024-01-01 00:00:00 UTC\n" +
		"Execute flags: 0x0000004D"
	assert.Equal(t, want, FormatProcessInfo(p))
	assert.Equal(t, "<no process info>", FormatProcessInfo(&model.ProcessInfo{}))
}

func TestFormatExecArtifacts(t *testing.T) {
	var arts []model.ProcessExecArtifact
	for i := 0; i < 14; i++ {
		arts = append(arts, model.ProcessExecArtifact{Image: "cmd.exe", CommandLine: "cmd.exe /c whoami", Encoding: model.EncodingUTF16LE})
	}

	out := FormatExecArtifacts(arts, 12)
	assert.True(t, strings.HasPrefix(out, "Recovered: 14\n\n  1. [utf16le] cmd.exe\n     cmd.exe /c whoami\n"))
	assert.Contains(t, out, " 12. [utf16le]")
	assert.NotContains(t, out, " 13. ")
	assert.True(t, strings.HasSuffix(out, "... (2 more)\n"))
}

func TestFormatStackwalkSummary(t *testing.T) {
	tid := uint32(0x1F)
	sw := &model.StackwalkReport{
		RequestingThreadID: &tid,
		SymbolPaths:        []string{"/a", "/b"},
		Notes:              []string{"note one"},
		Threads:            []model.ThreadStackTrace{{Frames: make([]model.StackFrameInfo, 3)}},
	}
	want := "threads_walked=1\n" +
		"total_frames=3\n" +
		"symbolicated_frames=0\n" +
		"modules_with_symbols=0\n" +
		"requesting_thread=0x1F\n" +
		"symbol_paths=/a; /b\n" +
		"\n" +
		"Notes:\n" +
		"- note one"
	assert.Equal(t, want, FormatStackwalkSummary(sw))
}

func TestFormatFrameOffsets(t *testing.T) {
	f := model.StackFrameInfo{Index: 3, Instruction: 0x1000, ModuleOffset: u64(0x20)}
	assert.Equal(t, "#03 0x0000000000001000 <no-module>!<unknown>+0x20", FormatFrame(f))

	f.FunctionOffset = u64(0x8)
	assert.Equal(t, "#03 0x0000000000001000 <no-module>!<unknown>+0x8", FormatFrame(f))
}

func TestFormatStackPreview(t *testing.T) {
	stack := &model.ThreadStackTrace{ThreadID: 0xA, Frames: make([]model.StackFrameInfo, 11)}
	out := FormatStackPreview(stack, 10)
	assert.True(t, strings.HasPrefix(out, "thread_id=0xA name=-\nframes=11\n\n"))
	assert.True(t, strings.HasSuffix(out, "... (1 more)\n"))
}

func TestNarrateDetectionOffsets(t *testing.T) {
	report := &model.MinidumpReport{}
	dets := []model.Detection{{Severity: model.High, Title: "A"}, {Severity: model.Info, Title: "B"}}
	store := Narrate("x.dmp", 10, &model.Summary{}, report, dets)

	all := store.All()
	assert.Len(t, all, 4)
	assert.Equal(t, "Detection: A", all[2].Title)
	assert.Equal(t, uint64(15), all[2].TMs)
	assert.Equal(t, uint64(20), all[3].TMs)
	assert.Equal(t, SourceDetector, all[3].Source)
	assert.Equal(t, "<no summary>", all[1].Details)
}

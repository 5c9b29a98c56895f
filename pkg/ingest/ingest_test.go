package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineffectivecoder/DumpGooser/pkg/config"
	"github.com/ineffectivecoder/DumpGooser/pkg/metrics"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump/minidumptest"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
	"github.com/ineffectivecoder/DumpGooser/pkg/stackwalk"
)

const psLine = "powershell.exe -enc AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type fakeWalker struct {
	report *model.StackwalkReport
	err    error
	block  chan struct{}
	calls  atomic.Int32
}

func (w *fakeWalker) Walk(ctx context.Context, req stackwalk.Request) (*model.StackwalkReport, error) {
	w.calls.Add(1)
	if w.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.block:
		}
	}
	return w.report, w.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newIngester(w stackwalk.Walker) *Ingester {
	return &Ingester{Config: config.Default(), Walker: w, Logger: quietLogger()}
}

func writeDump(t *testing.T, b *minidumptest.Builder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dmp")
	require.NoError(t, b.WriteFile(path))
	return path
}

func powershellDump() *minidumptest.Builder {
	mem := append([]byte{0, 0, 0, 0}, []byte(psLine)...)
	mem = append(mem, 0, 0, 0, 0)

	return minidumptest.New().
		SetTimeDateStamp(1704067200).
		AddModules(minidumptest.Module{Name: "app.exe", Base: 0x140000000, Size: 0x1000}).
		AddMemory64List(minidump.MemoryRegion{Base: 0x150000000, Bytes: mem})
}

func TestIngestPowershellArtifact(t *testing.T) {
	ing := newIngester(&fakeWalker{err: errors.New("no stackwalker")})
	out, err := ing.Ingest(context.Background(), writeDump(t, powershellDump()))
	require.NoError(t, err)

	arts := out.Report.ExecArtifacts
	require.Len(t, arts, 1)
	assert.Equal(t, model.EncodingASCII, arts[0].Encoding)
	assert.Equal(t, "powershell.exe", arts[0].Image)
	assert.Equal(t, psLine, arts[0].CommandLine)

	dets := out.Detections()
	require.Len(t, dets, 1)
	assert.Equal(t, "Suspicious execution artifact", dets[0].Title)
	assert.Equal(t, model.High, dets[0].Severity)
	assert.Contains(t, dets[0].Details, "encoded command")

	// Degraded injection path: no memory info and no threads
	assert.Empty(t, out.Report.InjectedRegions)
	require.NotNil(t, out.Report.MemoryRegion64Count)
	assert.Equal(t, 1, *out.Report.MemoryRegion64Count)
	assert.Nil(t, out.Report.MemoryRegionCount)
	assert.Nil(t, out.Report.Process.PID)
	assert.Equal(t, "app.exe", *out.Report.Process.MainImage)
}

func TestIngestNarrative(t *testing.T) {
	ing := newIngester(&fakeWalker{err: errors.New("stackwalker missing")})
	out, err := ing.Ingest(context.Background(), writeDump(t, powershellDump()))
	require.NoError(t, err)

	var titles []string
	var offsets []uint64
	for _, ev := range out.Events.All() {
		titles = append(titles, ev.Title)
		offsets = append(offsets, ev.TMs)
	}
	assert.Equal(t, []string{
		"Minidump loaded",
		"Minidump summary",
		"Process info",
		"Execution artifacts recovered",
		"Stackwalk failed",
		"Detection: Suspicious execution artifact",
	}, titles)
	assert.Equal(t, []uint64{0, 10, 20, 30, 40, 45}, offsets)

	first, ok := out.Events.FirstID()
	require.True(t, ok)
	assert.Equal(t, model.EventID(1), first)

	failed, ok := out.Events.Get(5)
	require.True(t, ok)
	assert.Equal(t, "stackwalker missing", failed.Details)
	assert.Equal(t, SourceStackwalk, failed.Source)
	assert.Equal(t, model.Warning, failed.Severity)

	require.NotNil(t, out.Report.StackwalkError)
	assert.Nil(t, out.Report.Stackwalk)
}

func TestIngestExceptionAndStackwalk(t *testing.T) {
	fn := "crash_here"
	mod := "app.exe"
	off := uint64(0x42)
	tid := uint32(0x10)
	walker := &fakeWalker{report: &model.StackwalkReport{
		RequestingThreadID: &tid,
		Threads: []model.ThreadStackTrace{{
			ThreadID: 0x10,
			Status:   "ok",
			Frames: []model.StackFrameInfo{
				{Index: 0, Instruction: 0x140000100, Module: &mod, Function: &fn, FunctionOffset: &off},
				{Index: 1, Instruction: 0x150000000},
			},
		}},
	}}

	b := minidumptest.New().
		AddModules(minidumptest.Module{Name: "app.exe", Base: 0x140000000, Size: 0x1000}).
		AddThreads(minidump.Thread{ThreadId: 0x10}).
		AddException(minidump.Exception{ThreadId: 0x10, Code: 0xC0000005, Address: 0xDEAD})

	out, err := newIngester(walker).Ingest(context.Background(), writeDump(t, b))
	require.NoError(t, err)
	assert.Equal(t, int32(1), walker.calls.Load())

	require.NotNil(t, out.Summary.Exception)
	assert.Equal(t, "thread_id=16 code=0xC0000005 addr=0x000000000000DEAD", *out.Summary.Exception)

	var titles []string
	for _, ev := range out.Events.All() {
		titles = append(titles, ev.Title)
	}
	assert.Contains(t, titles, "Exception stream present")
	assert.Contains(t, titles, "Stackwalk completed")
	assert.Contains(t, titles, "Exception thread call stack")
	assert.Contains(t, titles, "Detection: Access violation")
	assert.NotContains(t, titles, "Stackwalk failed")

	for _, ev := range out.Events.All() {
		if ev.Title == "Exception thread call stack" {
			assert.Contains(t, ev.Details, "#00 0x0000000140000100 app.exe!crash_here+0x42")
			assert.Contains(t, ev.Details, "#01 0x0000000150000000 <no-module>!<unknown>")
		}
	}
}

func TestIngestFatalErrors(t *testing.T) {
	ing := newIngester(stackwalk.Disabled{})

	_, err := ing.Ingest(context.Background(), filepath.Join(t.TempDir(), "missing.dmp"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.dmp")
	require.NoError(t, writeBytes(path, []byte("this is not a minidump at all, just text")))
	_, err = ing.Ingest(context.Background(), path)
	assert.Error(t, err)
}

func TestIngestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newIngester(stackwalk.Disabled{}).Ingest(ctx, writeDump(t, powershellDump()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestRecordsMetrics(t *testing.T) {
	ing := newIngester(stackwalk.Disabled{})
	ing.Metrics = metrics.NewRecorder()

	_, err := ing.Ingest(context.Background(), writeDump(t, powershellDump()))
	require.NoError(t, err)

	families, err := ing.Metrics.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewPicksWalker(t *testing.T) {
	cfg := config.Default()
	cfg.DisableStackwalk = true
	assert.IsType(t, stackwalk.Disabled{}, New(cfg, quietLogger()).Walker)

	cfg.DisableStackwalk = false
	assert.IsType(t, &stackwalk.ExternalWalker{}, New(cfg, quietLogger()).Walker)
}

func TestLoaderSupersedes(t *testing.T) {
	slow := &fakeWalker{block: make(chan struct{}), err: errors.New("walk failed")}
	loader := NewLoader(newIngester(slow))

	first := writeDump(t, powershellDump())
	second := writeDump(t, minidumptest.New())

	loader.Load(context.Background(), first)
	gen := loader.Load(context.Background(), second)
	close(slow.block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := loader.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, gen, res.Gen)
	assert.Equal(t, second, res.Path)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Ingested.Report.ExecArtifacts)

	_, ok := loader.Poll()
	assert.False(t, ok)
	_, running := loader.Pending()
	assert.False(t, running)
}

func TestLoaderCancel(t *testing.T) {
	slow := &fakeWalker{block: make(chan struct{})}
	loader := NewLoader(newIngester(slow))
	loader.Load(context.Background(), writeDump(t, powershellDump()))

	path, running := loader.Pending()
	assert.True(t, running)
	assert.NotEmpty(t, path)

	loader.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := loader.Wait(ctx)
	require.NoError(t, err)
	assert.Nil(t, res)
}

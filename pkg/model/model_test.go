package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
)

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, High > Warning && Warning > Info)
	assert.Equal(t, 0, High.Rank())
	assert.Equal(t, 1, Warning.Rank())
	assert.Equal(t, 2, Info.Rank())
	assert.Equal(t, "WARN", Warning.Label())

	s, err := ParseSeverity("warn")
	require.NoError(t, err)
	assert.Equal(t, Warning, s)
	_, err = ParseSeverity("critical")
	assert.Error(t, err)
}

func TestSeverityJSON(t *testing.T) {
	b, err := json.Marshal(Detection{Severity: High, Title: "x"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"severity":"high"`)

	var d Detection
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Equal(t, High, d.Severity)
}

func TestModuleContains(t *testing.T) {
	m := ModuleInfo{Base: 0x1000, Size: 0x100}
	assert.True(t, m.Contains(0x1000))
	assert.True(t, m.Contains(0x10FF))
	assert.False(t, m.Contains(0x1100))
	assert.False(t, m.Contains(0xFFF))

	wrap := ModuleInfo{Base: ^uint64(0) - 0x10, Size: 0x100}
	assert.True(t, wrap.Contains(^uint64(0)-1))
}

func TestLastThreadCreateTime(t *testing.T) {
	r := &MinidumpReport{}
	assert.Nil(t, r.LastThreadCreateTimeUnix())

	r.Threads = []ThreadInfo{
		{ThreadID: 1, CreateTimeUnix: u64(100)},
		{ThreadID: 2},
		{ThreadID: 3, CreateTimeUnix: u64(300)},
	}
	last := r.LastThreadCreateTimeUnix()
	require.NotNil(t, last)
	assert.Equal(t, uint64(300), *last)
}

func TestExceptionStack(t *testing.T) {
	r := &MinidumpReport{
		Exception: &ExceptionInfo{ThreadID: 7},
		Stackwalk: &StackwalkReport{Threads: []ThreadStackTrace{
			{ThreadID: 5},
			{ThreadID: 7, Frames: []StackFrameInfo{{Index: 0}, {Index: 1}}},
		}},
	}
	stack := r.ExceptionStack()
	require.NotNil(t, stack)
	assert.Equal(t, uint32(7), stack.ThreadID)
	assert.Equal(t, 2, r.Stackwalk.TotalFrames())
	assert.Nil(t, r.StackwalkThread(99))

	r.Stackwalk = nil
	assert.Nil(t, r.ExceptionStack())
}

func TestInjectedRegionFlagStrings(t *testing.T) {
	r := InjectedRegion{
		Protection: minidump.PageExecuteReadWrite,
		Type:       minidump.MemPrivate,
		State:      minidump.MemCommit,
	}
	assert.Equal(t, "PAGE_EXECUTE_READWRITE", r.ProtectionString())
	assert.Equal(t, "MEM_PRIVATE", r.TypeString())
	assert.Equal(t, "MEM_COMMIT", r.StateString())

	r.FlagsUnknown = true
	assert.Contains(t, r.ProtectionString(), "unknown")
	assert.Equal(t, "unknown", r.TypeString())
	assert.Equal(t, "unknown", r.StateString())
}

func TestProcessInfoEmpty(t *testing.T) {
	p := &ProcessInfo{}
	assert.True(t, p.Empty())
	p.MainImage = str("app.exe")
	assert.False(t, p.Empty())
}

func TestSummaryPretty(t *testing.T) {
	s := &Summary{}
	assert.Equal(t, "<no summary>", s.Pretty())

	size := uint64(4096)
	ts := uint32(1704067200)
	threads := 3
	s = &Summary{FileSize: &size, TimeDateStamp: &ts, OS: str("Windows NT 10.0.19045"), ThreadCount: &threads}
	want := "File size: 4096 bytes\n" +
		"TimeDateStamp (unix): 1704067200\n" +
		"TimeDateStamp (utc): 2024-01-01 00:00:00 UTC\n" +
		"OS: Windows NT 10.0.19045\n" +
		"Threads: 3"
	assert.Equal(t, want, s.Pretty())
}

func TestEventStoreIDs(t *testing.T) {
	s := NewEventStore(
		Event{Title: "a"},
		Event{Title: "b", ID: 10},
		Event{Title: "c"},
	)
	require.Equal(t, 3, s.Len())

	first, ok := s.FirstID()
	require.True(t, ok)
	assert.Equal(t, EventID(1), first)

	ev, ok := s.Get(11)
	require.True(t, ok)
	assert.Equal(t, "c", ev.Title)

	_, ok = s.Get(2)
	assert.False(t, ok)

	_, ok = NewEventStore().FirstID()
	assert.False(t, ok)
}

func TestEventStoreFilter(t *testing.T) {
	s := NewEventStore(
		Event{Severity: Info},
		Event{Severity: High},
		Event{Severity: Warning},
	)
	assert.Len(t, s.Filter(Warning), 2)
	assert.Len(t, s.Filter(High), 1)
	assert.Len(t, s.Filter(Info), 3)
}

package normalize

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump/minidumptest"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func parse(t *testing.T, b *minidumptest.Builder) *minidump.Dump {
	t.Helper()
	d, err := minidump.Parse(b.Bytes())
	require.NoError(t, err)
	return d
}

func TestNormalizeEmptyDump(t *testing.T) {
	res := Normalize(parse(t, minidumptest.New()), quietLogger())

	assert.Nil(t, res.OS)
	assert.Nil(t, res.ModuleCount)
	assert.Nil(t, res.ThreadCount)
	assert.Nil(t, res.Process)
	assert.Nil(t, res.Exception)
	assert.Nil(t, res.MemoryInfo)
	assert.Nil(t, res.MemoryRegionCount)
	assert.Empty(t, res.ScanRegions)
}

func TestNormalizeFullDump(t *testing.T) {
	b := minidumptest.New().
		AddSystemInfo(minidump.SystemInfoRecord{ProcessorArchitecture: minidump.ArchAMD64, NumberOfProcessors: 4, MajorVersion: 10, PlatformId: 2}, "").
		AddModules(minidumptest.Module{Name: `C:\app\app.exe`, Base: 0x140000000, Size: 0x1000, FileVersionMS: 0x00010002, FileVersionLS: 0x00030004}).
		AddThreads(minidump.Thread{ThreadId: 1}, minidump.Thread{ThreadId: 2}).
		AddThreadNames(minidumptest.ThreadName{ThreadID: 2, Name: "worker"}).
		AddThreadInfo(
			minidump.ThreadInfo{ThreadId: 1, CreateTime: 133485408000000000, StartAddress: 0x140000100},
			minidump.ThreadInfo{ThreadId: 2},
		).
		AddMiscInfo(minidumptest.MiscInfo{Flags: minidump.MiscProcessID | minidump.MiscProcessTimes, ProcessID: 77, CreateTime: 1704067200}).
		AddException(minidump.Exception{ThreadId: 1, Code: 0xC0000005, Address: 0xDEAD}).
		AddMemoryList(minidump.MemoryRegion{Base: 0x1000, Bytes: []byte("legacy")}).
		AddMemory64List(minidump.MemoryRegion{Base: 0x2000, Bytes: []byte("full")})

	res := Normalize(parse(t, b), quietLogger())

	require.NotNil(t, res.OS)
	assert.Equal(t, "Windows NT 10.0.0", *res.OS)
	require.NotNil(t, res.CPU)
	assert.Equal(t, "amd64 (4 processors)", *res.CPU)

	require.Len(t, res.Modules, 1)
	require.NotNil(t, res.Modules[0].FileVersion)
	assert.Equal(t, "1.2.3.4", *res.Modules[0].FileVersion)

	require.Len(t, res.Threads, 2)
	t1, t2 := res.Threads[0], res.Threads[1]
	require.NotNil(t, t1.CreateTimeUnix)
	assert.Equal(t, uint64(1704067200), *t1.CreateTimeUnix)
	require.NotNil(t, t1.StartAddress)
	assert.Equal(t, uint64(0x140000100), *t1.StartAddress)
	assert.Nil(t, t1.Name)
	require.NotNil(t, t2.Name)
	assert.Equal(t, "worker", *t2.Name)
	assert.Nil(t, t2.StartAddress, "zero entry point is reported as absent")
	assert.Nil(t, t2.CreateTimeUnix)

	require.NotNil(t, res.Process)
	require.NotNil(t, res.Process.PID)
	assert.Equal(t, uint32(77), *res.Process.PID)
	require.NotNil(t, res.Process.CreateTimeUnix)
	assert.Equal(t, uint64(1704067200), *res.Process.CreateTimeUnix)
	assert.Equal(t, `C:\app\app.exe`, *res.Process.MainImage)
	assert.Equal(t, "1.2.3.4", *res.Process.MainImageVersion)
	assert.Nil(t, res.Process.IntegrityLevel)

	require.NotNil(t, res.Exception)
	assert.Equal(t, uint32(0xC0000005), res.Exception.Code)

	// Full memory list wins; legacy regions are only counted
	require.Len(t, res.ScanRegions, 1)
	assert.Equal(t, uint64(0x2000), res.ScanRegions[0].Base)
	assert.Equal(t, 1, *res.MemoryRegionCount)
	assert.Equal(t, 1, *res.MemoryRegion64Count)
}

func TestNormalizeLegacyMemoryFallback(t *testing.T) {
	b := minidumptest.New().AddMemoryList(minidump.MemoryRegion{Base: 0x1000, Bytes: []byte("legacy")})
	res := Normalize(parse(t, b), quietLogger())

	require.Len(t, res.ScanRegions, 1)
	assert.Equal(t, uint64(0x1000), res.ScanRegions[0].Base)
	assert.Nil(t, res.MemoryRegion64Count)
}

func TestNormalizeSkipsMalformedStream(t *testing.T) {
	// Module list claims entries it does not have; threads still decode
	b := minidumptest.New().
		AddRaw(minidump.ModuleListStream, []byte{5, 0, 0, 0}).
		AddThreads(minidump.Thread{ThreadId: 9})

	res := Normalize(parse(t, b), quietLogger())
	assert.Nil(t, res.ModuleCount)
	assert.Empty(t, res.Modules)
	require.Len(t, res.Threads, 1)
	assert.Equal(t, uint32(9), res.Threads[0].ThreadID)
}

func TestProcessAbsentWhenNothingRecovered(t *testing.T) {
	assert.Nil(t, Process(nil, nil))
	assert.Nil(t, Process(&minidump.MiscInfo{}, nil))

	pid := uint32(4)
	p := Process(&minidump.MiscInfo{ProcessID: &pid}, nil)
	require.NotNil(t, p)
	assert.Nil(t, p.MainImage)
}

func TestFileVersion(t *testing.T) {
	assert.Nil(t, FileVersion(0, 0))
	v := FileVersion(0x000A0000, 0x4A650001)
	require.NotNil(t, v)
	assert.Equal(t, "10.0.19045.1", *v)
}

// Package normalize turns the decoded minidump streams into the report
// model. Every stream is optional: a missing or damaged stream leaves its
// fields unset and never stops the others from being read.
package normalize

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ineffectivecoder/DumpGooser/internal/timeutil"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

// Result is the normalized view of one dump
type Result struct {
	OS  *string
	CPU *string

	// Nil when the stream is absent, even if the list would be empty
	ModuleCount *int
	ThreadCount *int

	Modules   []model.ModuleInfo
	Threads   []model.ThreadInfo
	Process   *model.ProcessInfo
	Exception *model.ExceptionInfo

	MemoryRegionCount     *int
	MemoryRegion64Count   *int
	MemoryInfoRegionCount *int

	// ScanRegions is the memory the artifact scanner reads: the full-memory
	// list when present, otherwise the legacy memory list.
	ScanRegions []minidump.MemoryRegion

	// MemoryInfo is nil when the memory info stream is absent or unreadable
	MemoryInfo *minidump.MemoryInfoList
}

// Normalize reads every optional stream of d
func Normalize(d *minidump.Dump, logger *logrus.Logger) *Result {
	log := logger.WithField("component", "normalize")
	res := &Result{}

	if si, err := d.SystemInfo(); err == nil {
		os, cpu := si.OS(), si.CPU()
		res.OS, res.CPU = &os, &cpu
	} else {
		skip(log, "system info", err)
	}

	if mods, err := d.Modules(); err == nil {
		res.Modules = Modules(mods)
		n := len(mods)
		res.ModuleCount = &n
	} else {
		skip(log, "module list", err)
	}

	if threads, err := d.Threads(); err == nil {
		names, err := d.ThreadNames()
		if err != nil {
			skip(log, "thread names", err)
		}
		infos, err := d.ThreadInfos()
		if err != nil {
			skip(log, "thread info list", err)
		}
		res.Threads = Threads(threads, names, infos)
		n := len(threads)
		res.ThreadCount = &n
	} else {
		skip(log, "thread list", err)
	}

	misc, err := d.MiscInfo()
	if err != nil {
		skip(log, "misc info", err)
	}
	res.Process = Process(misc, res.Modules)

	if exc, err := d.Exception(); err == nil {
		res.Exception = &model.ExceptionInfo{
			ThreadID:         exc.ThreadId,
			Code:             exc.Code,
			Flags:            exc.Flags,
			Address:          exc.Address,
			NumberParameters: exc.NumberParameters,
		}
	} else {
		skip(log, "exception", err)
	}

	legacy, err := d.MemoryList()
	if err == nil {
		n := len(legacy)
		res.MemoryRegionCount = &n
	} else {
		skip(log, "memory list", err)
	}

	full, err64 := d.Memory64List()
	if err64 == nil {
		n := len(full)
		res.MemoryRegion64Count = &n
		res.ScanRegions = full
	} else {
		skip(log, "memory64 list", err64)
		if err == nil {
			res.ScanRegions = legacy
		}
	}

	if mi, err := d.MemoryInfoList(); err == nil {
		n := len(mi.Entries)
		res.MemoryInfoRegionCount = &n
		res.MemoryInfo = mi
	} else {
		skip(log, "memory info list", err)
	}

	log.WithFields(logrus.Fields{
		"modules":      len(res.Modules),
		"threads":      len(res.Threads),
		"scan_regions": len(res.ScanRegions),
		"memory_info":  res.MemoryInfo != nil,
	}).Debug("Streams normalized")

	return res
}

// skip logs a stream that could not be used. Absent streams are expected
// and stay quiet.
func skip(log *logrus.Entry, stream string, err error) {
	if errors.Is(err, minidump.ErrStreamNotFound) {
		return
	}
	log.WithError(err).WithField("stream", stream).Debug("Skipping malformed stream")
}

// Modules converts module list entries
func Modules(mods []minidump.Module) []model.ModuleInfo {
	out := make([]model.ModuleInfo, 0, len(mods))
	for _, m := range mods {
		out = append(out, model.ModuleInfo{
			Name:          m.ModuleName,
			Base:          m.BaseOfImage,
			Size:          uint64(m.SizeOfImage),
			Checksum:      m.CheckSum,
			TimeDateStamp: m.TimeDateStamp,
			FileVersion:   FileVersion(m.VersionInfo.FileVersionMS, m.VersionInfo.FileVersionLS),
		})
	}
	return out
}

// FileVersion formats VS_FIXEDFILEINFO file version words as a.b.c.d.
// Both words zero means no version resource.
func FileVersion(ms, ls uint32) *string {
	if ms == 0 && ls == 0 {
		return nil
	}
	v := fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF)
	return &v
}

// Threads merges the thread list with the optional side streams. Either
// map may be nil.
func Threads(threads []minidump.Thread, names map[uint32]string, infos map[uint32]minidump.ThreadInfo) []model.ThreadInfo {
	out := make([]model.ThreadInfo, 0, len(threads))
	for _, t := range threads {
		ti := model.ThreadInfo{
			ThreadID:      t.ThreadId,
			SuspendCount:  t.SuspendCount,
			PriorityClass: t.PriorityClass,
			Priority:      t.Priority,
			Teb:           t.Teb,
			StackStart:    t.Stack.StartOfMemoryRange,
			StackSize:     uint64(t.Stack.Memory.DataSize),
		}

		if name, ok := names[t.ThreadId]; ok {
			ti.Name = &name
		}

		if info, ok := infos[t.ThreadId]; ok {
			ft := info.CreateTime
			ti.CreateTimeFiletime = &ft
			if unix, ok := timeutil.FiletimeToUnix(ft); ok {
				ti.CreateTimeUnix = &unix
			}
			if info.StartAddress != 0 {
				start := info.StartAddress
				ti.StartAddress = &start
			}
		}

		out = append(out, ti)
	}
	return out
}

// Process synthesizes process info from the misc info stream (may be nil)
// and the first module. It returns nil when nothing was recoverable.
func Process(misc *minidump.MiscInfo, modules []model.ModuleInfo) *model.ProcessInfo {
	p := &model.ProcessInfo{}

	if len(modules) > 0 {
		name := modules[0].Name
		p.MainImage = &name
		if modules[0].FileVersion != nil {
			v := *modules[0].FileVersion
			p.MainImageVersion = &v
		}
	}

	if misc != nil {
		p.PID = misc.ProcessID
		if misc.ProcessCreateTime != nil {
			ct := uint64(*misc.ProcessCreateTime)
			p.CreateTimeUnix = &ct
		}
		p.IntegrityLevel = misc.IntegrityLevel
		p.ExecuteFlags = misc.ExecuteFlags
		p.ProtectedProcess = misc.ProtectedProcess
	}

	if p.Empty() {
		return nil
	}
	return p
}

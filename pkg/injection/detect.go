// Package injection flags executable memory allocations that no loaded
// module accounts for: committed private executable pages, threads that
// start outside every module, and recovered command lines that live in
// such memory.
package injection

import (
	"fmt"
	"sort"

	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

// Reasons attached to injected regions
const (
	ReasonPrivateExec = "committed private executable memory not backed by a module"
	ReasonRWX         = "RWX protection"
	ReasonArtifact    = "recovered execution artifact string points into this allocation"
)

// ThreadStartReason formats the thread entry point pivot reason
func ThreadStartReason(tid uint32, start uint64) string {
	return fmt.Sprintf("thread start outside modules: tid=0x%X start=0x%016X", tid, start)
}

// Input is everything the detector looks at. MemoryInfo may be nil.
type Input struct {
	Modules    []model.ModuleInfo
	Threads    []model.ThreadInfo
	Artifacts  []model.ProcessExecArtifact
	MemoryInfo *minidump.MemoryInfoList
}

// accum collects one allocation
type accum struct {
	base        uint64
	size        uint64
	protect     minidump.MemoryProtection
	typ         minidump.MemoryType
	state       minidump.MemoryState
	reasons     []string
	risk        model.Severity
	seenRegions map[uint64]bool
}

func (a *accum) merge(mi minidump.MemoryInfo) {
	a.protect |= mi.Protect
	a.typ |= mi.Type
	a.state |= mi.State
	if !a.seenRegions[mi.BaseAddress] {
		a.seenRegions[mi.BaseAddress] = true
		a.size += mi.RegionSize
		if a.size < mi.RegionSize {
			a.size = ^uint64(0)
		}
	}
}

func (a *accum) addReason(reason string) {
	for _, r := range a.reasons {
		if r == reason {
			return
		}
	}
	a.reasons = append(a.reasons, reason)
}

// detector holds the per-call accumulation state
type detector struct {
	modules []model.ModuleInfo
	byBase  map[uint64]*accum
}

func (d *detector) entry(allocBase uint64, risk model.Severity) *accum {
	if a, ok := d.byBase[allocBase]; ok {
		return a
	}
	a := &accum{base: allocBase, risk: risk, seenRegions: make(map[uint64]bool)}
	d.byBase[allocBase] = a
	return a
}

func (d *detector) inModule(addr uint64) bool {
	return model.ModuleAt(d.modules, addr) != nil
}

func (d *detector) overlapsModule(base, size uint64) bool {
	end := base + size
	if end < base {
		end = ^uint64(0)
	}
	for _, m := range d.modules {
		if base < m.End() && end > m.Base {
			return true
		}
	}
	return false
}

// Detect returns the suspicious allocations sorted by risk rank, then size
// descending, then base address.
func Detect(in Input) []model.InjectedRegion {
	d := &detector{modules: in.Modules, byBase: make(map[uint64]*accum)}

	if in.MemoryInfo == nil {
		return d.fallback(in.Threads)
	}

	// Committed private executable memory outside modules
	for _, mi := range in.MemoryInfo.Entries {
		if !mi.State.Committed() || !mi.Type.Private() || !mi.Protect.IsExecutable() {
			continue
		}
		if d.overlapsModule(mi.BaseAddress, mi.RegionSize) {
			continue
		}

		a := d.entry(mi.AllocationBase, model.Warning)
		a.merge(mi)
		a.addReason(ReasonPrivateExec)
		if mi.Protect.IsRWX() {
			a.risk = model.High
			a.addReason(ReasonRWX)
		}
	}

	// Thread entry points outside modules
	for _, t := range in.Threads {
		if t.StartAddress == nil || d.inModule(*t.StartAddress) {
			continue
		}
		mi, ok := in.MemoryInfo.At(*t.StartAddress)
		if !ok {
			continue
		}
		a := d.entry(mi.AllocationBase, model.High)
		a.merge(mi)
		a.risk = model.High
		a.addReason(ThreadStartReason(t.ThreadID, *t.StartAddress))
	}

	// Recovered command lines stored outside modules
	for _, art := range in.Artifacts {
		if art.Address == nil || d.inModule(*art.Address) {
			continue
		}
		mi, ok := in.MemoryInfo.At(*art.Address)
		if !ok {
			continue
		}
		a := d.entry(mi.AllocationBase, model.Warning)
		a.merge(mi)
		a.addReason(ReasonArtifact)
	}

	out := make([]model.InjectedRegion, 0, len(d.byBase))
	for _, a := range d.byBase {
		out = append(out, model.InjectedRegion{
			Base:       a.base,
			Size:       a.size,
			Protection: a.protect,
			Type:       a.typ,
			State:      a.state,
			Reasons:    a.reasons,
			Risk:       a.risk,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Risk.Rank(), out[j].Risk.Rank(); ri != rj {
			return ri < rj
		}
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].Base < out[j].Base
	})
	return out
}

// fallback flags thread entry points outside modules when there is no
// memory info to resolve allocations: one High, zero-size entry per
// distinct start address.
func (d *detector) fallback(threads []model.ThreadInfo) []model.InjectedRegion {
	for _, t := range threads {
		if t.StartAddress == nil || d.inModule(*t.StartAddress) {
			continue
		}
		a := d.entry(*t.StartAddress, model.High)
		a.addReason(ThreadStartReason(t.ThreadID, *t.StartAddress))
	}

	out := make([]model.InjectedRegion, 0, len(d.byBase))
	for _, a := range d.byBase {
		out = append(out, model.InjectedRegion{
			Base:         a.base,
			FlagsUnknown: true,
			Reasons:      a.reasons,
			Risk:         model.High,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

package minidump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/ineffectivecoder/DumpGooser/internal/encoding"
	"github.com/ineffectivecoder/DumpGooser/pkg/debug"
)

// MemoryRegion is a captured range of process memory
type MemoryRegion struct {
	Base  uint64
	Bytes []byte
}

// End returns the exclusive end address of the region
func (r MemoryRegion) End() uint64 {
	return r.Base + uint64(len(r.Bytes))
}

// MemoryList decodes the 32-bit memory list stream. Descriptors pointing
// outside the file are skipped.
func (d *Dump) MemoryList() ([]MemoryRegion, error) {
	data, err := d.streamData(MemoryListStream)
	if err != nil {
		return nil, err
	}

	count, ok := encoding.Uint32At(data, 0)
	if !ok {
		return nil, fmt.Errorf("memory list: missing count")
	}

	entrySize := uint64(binary.Size(MemoryDescriptor{}))
	if 4+uint64(count)*entrySize > uint64(len(data)) {
		return nil, fmt.Errorf("memory list: %d entries exceed stream size %d", count, len(data))
	}

	descs := make([]MemoryDescriptor, count)
	if err := binary.Read(bytes.NewReader(data[4:]), binary.LittleEndian, descs); err != nil {
		return nil, fmt.Errorf("memory list: %w", err)
	}

	regions := make([]MemoryRegion, 0, count)
	for _, desc := range descs {
		buf, err := d.slice(uint64(desc.Memory.RVA), uint64(desc.Memory.DataSize))
		if err != nil {
			debug.Printf("memory list: skipping region 0x%X: %v", desc.StartOfMemoryRange, err)
			continue
		}
		regions = append(regions, MemoryRegion{Base: desc.StartOfMemoryRange, Bytes: buf})
	}
	return regions, nil
}

// memory64Descriptor is MINIDUMP_MEMORY_DESCRIPTOR64
type memory64Descriptor struct {
	StartOfMemoryRange uint64
	DataSize           uint64
}

// Memory64List decodes the full-memory list stream. Region data is laid out
// back to back from BaseRva; the last region is clamped to the file size.
func (d *Dump) Memory64List() ([]MemoryRegion, error) {
	data, err := d.streamData(Memory64ListStream)
	if err != nil {
		return nil, err
	}

	count, ok1 := encoding.Uint64At(data, 0)
	baseRva, ok2 := encoding.Uint64At(data, 8)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("memory64 list: truncated header")
	}

	entrySize := uint64(binary.Size(memory64Descriptor{}))
	if count > (uint64(len(data))-16)/entrySize {
		return nil, fmt.Errorf("memory64 list: %d entries exceed stream size %d", count, len(data))
	}

	r := bytes.NewReader(data[16:])
	regions := make([]MemoryRegion, 0, count)
	offset := baseRva
	fileSize := uint64(len(d.data))
	for i := uint64(0); i < count; i++ {
		var desc memory64Descriptor
		if err := binary.Read(r, binary.LittleEndian, &desc); err != nil {
			return nil, fmt.Errorf("memory64 list entry %d: %w", i, err)
		}

		if offset >= fileSize {
			debug.Printf("memory64 list: %d of %d regions past end of file", count-i, count)
			break
		}
		size := desc.DataSize
		if size > fileSize-offset {
			debug.Printf("memory64 list: region 0x%X truncated to %d bytes", desc.StartOfMemoryRange, fileSize-offset)
			size = fileSize - offset
		}
		regions = append(regions, MemoryRegion{
			Base:  desc.StartOfMemoryRange,
			Bytes: d.data[offset : offset+size],
		})
		offset += desc.DataSize
		if offset < desc.DataSize {
			break
		}
	}
	return regions, nil
}

// MemoryRegions returns every captured memory range from the memory list and
// the full-memory list, sorted by base address.
func (d *Dump) MemoryRegions() []MemoryRegion {
	var out []MemoryRegion
	if regions, err := d.MemoryList(); err == nil {
		out = append(out, regions...)
	}
	if regions, err := d.Memory64List(); err == nil {
		out = append(out, regions...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// ReadVA reads up to size bytes at virtual address va from the captured
// memory. It returns fewer bytes when the range crosses the end of a region.
func (d *Dump) ReadVA(va uint64, size int) ([]byte, error) {
	for _, region := range d.MemoryRegions() {
		if va < region.Base || va >= region.End() {
			continue
		}
		off := va - region.Base
		end := off + uint64(size)
		if end > uint64(len(region.Bytes)) {
			end = uint64(len(region.Bytes))
		}
		return region.Bytes[off:end], nil
	}
	return nil, fmt.Errorf("address 0x%X not captured", va)
}

// MemoryProtection is a PAGE_* flag set
type MemoryProtection uint32

// Page protection flags
const (
	PageNoAccess         MemoryProtection = 0x01
	PageReadOnly         MemoryProtection = 0x02
	PageReadWrite        MemoryProtection = 0x04
	PageWriteCopy        MemoryProtection = 0x08
	PageExecute          MemoryProtection = 0x10
	PageExecuteRead      MemoryProtection = 0x20
	PageExecuteReadWrite MemoryProtection = 0x40
	PageExecuteWriteCopy MemoryProtection = 0x80
	PageGuard            MemoryProtection = 0x100
	PageNoCache          MemoryProtection = 0x200
	PageWriteCombine     MemoryProtection = 0x400
)

var protectionNames = []flagName{
	{uint32(PageNoAccess), "PAGE_NOACCESS"},
	{uint32(PageReadOnly), "PAGE_READONLY"},
	{uint32(PageReadWrite), "PAGE_READWRITE"},
	{uint32(PageWriteCopy), "PAGE_WRITECOPY"},
	{uint32(PageExecute), "PAGE_EXECUTE"},
	{uint32(PageExecuteRead), "PAGE_EXECUTE_READ"},
	{uint32(PageExecuteReadWrite), "PAGE_EXECUTE_READWRITE"},
	{uint32(PageExecuteWriteCopy), "PAGE_EXECUTE_WRITECOPY"},
	{uint32(PageGuard), "PAGE_GUARD"},
	{uint32(PageNoCache), "PAGE_NOCACHE"},
	{uint32(PageWriteCombine), "PAGE_WRITECOMBINE"},
}

// IsExecutable reports whether any execute permission is present
func (p MemoryProtection) IsExecutable() bool {
	return p&(PageExecute|PageExecuteRead|PageExecuteReadWrite|PageExecuteWriteCopy) != 0
}

// IsRWX reports whether PAGE_EXECUTE_READWRITE is set
func (p MemoryProtection) IsRWX() bool {
	return p&PageExecuteReadWrite != 0
}

// String renders the flag set as PAGE_* names joined by " | "
func (p MemoryProtection) String() string {
	return flagString(uint32(p), protectionNames)
}

type flagName struct {
	flag uint32
	name string
}

func flagString(v uint32, names []flagName) string {
	var parts []string
	rest := v
	for _, fn := range names {
		if v&fn.flag != 0 {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%X", rest))
	}
	if len(parts) == 0 {
		return "0x0"
	}
	return strings.Join(parts, " | ")
}

// MemoryState is a MEM_COMMIT/MEM_RESERVE/MEM_FREE value
type MemoryState uint32

// Memory states
const (
	MemCommit  MemoryState = 0x1000
	MemReserve MemoryState = 0x2000
	MemFree    MemoryState = 0x10000
)

// Committed reports whether the region is committed
func (s MemoryState) Committed() bool {
	return s&MemCommit != 0
}

func (s MemoryState) String() string {
	return flagString(uint32(s), []flagName{
		{uint32(MemCommit), "MEM_COMMIT"},
		{uint32(MemReserve), "MEM_RESERVE"},
		{uint32(MemFree), "MEM_FREE"},
	})
}

// MemoryType is a MEM_PRIVATE/MEM_MAPPED/MEM_IMAGE value
type MemoryType uint32

// Memory types
const (
	MemPrivate MemoryType = 0x20000
	MemMapped  MemoryType = 0x40000
	MemImage   MemoryType = 0x1000000
)

// Private reports whether the region is private memory
func (t MemoryType) Private() bool {
	return t&MemPrivate != 0
}

func (t MemoryType) String() string {
	return flagString(uint32(t), []flagName{
		{uint32(MemPrivate), "MEM_PRIVATE"},
		{uint32(MemMapped), "MEM_MAPPED"},
		{uint32(MemImage), "MEM_IMAGE"},
	})
}

// MemoryInfo is MINIDUMP_MEMORY_INFO (48 bytes)
type MemoryInfo struct {
	BaseAddress       uint64
	AllocationBase    uint64
	AllocationProtect MemoryProtection
	Alignment1        uint32
	RegionSize        uint64
	State             MemoryState
	Protect           MemoryProtection
	Type              MemoryType
	Alignment2        uint32
}

// End returns the exclusive end address of the region
func (m MemoryInfo) End() uint64 {
	return m.BaseAddress + m.RegionSize
}

// Contains reports whether addr lies inside the region
func (m MemoryInfo) Contains(addr uint64) bool {
	return addr >= m.BaseAddress && addr < m.End()
}

// MemoryInfoList is the decoded memory info stream
type MemoryInfoList struct {
	Entries []MemoryInfo
}

// At returns the region containing addr
func (l *MemoryInfoList) At(addr uint64) (MemoryInfo, bool) {
	for _, mi := range l.Entries {
		if mi.Contains(addr) {
			return mi, true
		}
	}
	return MemoryInfo{}, false
}

// MemoryInfoList decodes the memory info stream
func (d *Dump) MemoryInfoList() (*MemoryInfoList, error) {
	data, err := d.streamData(MemoryInfoListStream)
	if err != nil {
		return nil, err
	}

	sizeOfHeader, ok1 := encoding.Uint32At(data, 0)
	sizeOfEntry, ok2 := encoding.Uint32At(data, 4)
	count, ok3 := encoding.Uint64At(data, 8)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("memory info list: truncated header")
	}

	entries, err := splitEntries(data, "memory info list",
		uint64(sizeOfHeader), uint64(sizeOfEntry), count, binary.Size(MemoryInfo{}))
	if err != nil {
		return nil, err
	}

	list := &MemoryInfoList{Entries: make([]MemoryInfo, 0, len(entries))}
	for i, entry := range entries {
		var mi MemoryInfo
		if err := binary.Read(bytes.NewReader(entry), binary.LittleEndian, &mi); err != nil {
			return nil, fmt.Errorf("memory info entry %d: %w", i, err)
		}
		list.Entries = append(list.Entries, mi)
	}
	return list, nil
}

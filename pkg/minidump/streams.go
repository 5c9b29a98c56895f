package minidump

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ineffectivecoder/DumpGooser/internal/encoding"
)

// SystemInfoRecord is MINIDUMP_SYSTEM_INFO (56 bytes)
type SystemInfoRecord struct {
	ProcessorArchitecture uint16
	ProcessorLevel        uint16
	ProcessorRevision     uint16
	NumberOfProcessors    uint8
	ProductType           uint8
	MajorVersion          uint32
	MinorVersion          uint32
	BuildNumber           uint32
	PlatformId            uint32
	CSDVersionRva         uint32
	SuiteMask             uint16
	Reserved2             uint16
	CPUInfo               [24]byte
}

// SystemInfo from the dump
type SystemInfo struct {
	SystemInfoRecord

	// CSDVersion is the service pack string, if any
	CSDVersion string
}

// Processor architectures
const (
	ArchX86   = 0
	ArchARM   = 5
	ArchIA64  = 6
	ArchAMD64 = 9
	ArchARM64 = 12
)

// OS returns a short operating system descriptor
func (s *SystemInfo) OS() string {
	var name string
	switch s.PlatformId {
	case 0, 1:
		name = "Windows 9x"
	case 2:
		name = "Windows NT"
	case 0x8000:
		name = "Unix"
	case 0x8101:
		name = "macOS"
	case 0x8102:
		name = "iOS"
	case 0x8201:
		name = "Linux"
	case 0x8202:
		name = "Solaris"
	case 0x8203:
		name = "Android"
	default:
		name = fmt.Sprintf("Unknown(0x%X)", s.PlatformId)
	}

	out := fmt.Sprintf("%s %s", name, s.BuildVersion())
	if s.CSDVersion != "" {
		out += " " + s.CSDVersion
	}
	return out
}

// CPU returns a short processor descriptor
func (s *SystemInfo) CPU() string {
	var arch string
	switch s.ProcessorArchitecture {
	case ArchX86:
		arch = "x86"
	case ArchARM:
		arch = "arm"
	case ArchIA64:
		arch = "ia64"
	case ArchAMD64:
		arch = "amd64"
	case ArchARM64:
		arch = "arm64"
	default:
		arch = fmt.Sprintf("unknown(%d)", s.ProcessorArchitecture)
	}
	return fmt.Sprintf("%s (%d processors)", arch, s.NumberOfProcessors)
}

// BuildVersion returns a formatted OS build string
func (s *SystemInfo) BuildVersion() string {
	return fmt.Sprintf("%d.%d.%d", s.MajorVersion, s.MinorVersion, s.BuildNumber)
}

// SystemInfo decodes the system info stream
func (d *Dump) SystemInfo() (*SystemInfo, error) {
	data, err := d.streamData(SystemInfoStream)
	if err != nil {
		return nil, err
	}

	info := &SystemInfo{}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &info.SystemInfoRecord); err != nil {
		return nil, fmt.Errorf("system info: %w", err)
	}

	if info.CSDVersionRva != 0 {
		if csd, err := d.readString(uint64(info.CSDVersionRva)); err == nil {
			info.CSDVersion = csd
		}
	}
	return info, nil
}

// FixedFileInfo is VS_FIXEDFILEINFO
type FixedFileInfo struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

// rawModule is MINIDUMP_MODULE (108 bytes)
type rawModule struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	CheckSum      uint32
	TimeDateStamp uint32
	ModuleNameRva uint32
	VersionInfo   FixedFileInfo
	CvRecord      LocationDescriptor
	MiscRecord    LocationDescriptor
	Reserved0     uint64
	Reserved1     uint64
}

// Module represents a loaded DLL
type Module struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	CheckSum      uint32
	TimeDateStamp uint32
	ModuleName    string
	VersionInfo   FixedFileInfo
}

// Modules decodes the module list stream
func (d *Dump) Modules() ([]Module, error) {
	data, err := d.streamData(ModuleListStream)
	if err != nil {
		return nil, err
	}

	count, ok := encoding.Uint32At(data, 0)
	if !ok {
		return nil, fmt.Errorf("module list: missing count")
	}

	entrySize := uint64(binary.Size(rawModule{}))
	if 4+uint64(count)*entrySize > uint64(len(data)) {
		return nil, fmt.Errorf("module list: %d entries exceed stream size %d", count, len(data))
	}

	r := bytes.NewReader(data[4:])
	modules := make([]Module, 0, count)
	for i := uint32(0); i < count; i++ {
		var raw rawModule
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("module list entry %d: %w", i, err)
		}

		name, err := d.readString(uint64(raw.ModuleNameRva))
		if err != nil {
			return nil, fmt.Errorf("module list entry %d name: %w", i, err)
		}

		modules = append(modules, Module{
			BaseOfImage:   raw.BaseOfImage,
			SizeOfImage:   raw.SizeOfImage,
			CheckSum:      raw.CheckSum,
			TimeDateStamp: raw.TimeDateStamp,
			ModuleName:    name,
			VersionInfo:   raw.VersionInfo,
		})
	}

	return modules, nil
}

// MemoryDescriptor is MINIDUMP_MEMORY_DESCRIPTOR
type MemoryDescriptor struct {
	StartOfMemoryRange uint64
	Memory             LocationDescriptor
}

// Thread is MINIDUMP_THREAD (48 bytes)
type Thread struct {
	ThreadId      uint32
	SuspendCount  uint32
	PriorityClass uint32
	Priority      uint32
	Teb           uint64
	Stack         MemoryDescriptor
	ThreadContext LocationDescriptor
}

// Threads decodes the thread list stream
func (d *Dump) Threads() ([]Thread, error) {
	data, err := d.streamData(ThreadListStream)
	if err != nil {
		return nil, err
	}

	count, ok := encoding.Uint32At(data, 0)
	if !ok {
		return nil, fmt.Errorf("thread list: missing count")
	}

	entrySize := uint64(binary.Size(Thread{}))
	if 4+uint64(count)*entrySize > uint64(len(data)) {
		return nil, fmt.Errorf("thread list: %d entries exceed stream size %d", count, len(data))
	}

	threads := make([]Thread, count)
	if err := binary.Read(bytes.NewReader(data[4:]), binary.LittleEndian, threads); err != nil {
		return nil, fmt.Errorf("thread list: %w", err)
	}
	return threads, nil
}

// rawThreadName is MINIDUMP_THREAD_NAME (12 bytes packed)
type rawThreadName struct {
	ThreadId        uint32
	RvaOfThreadName uint64
}

// ThreadNames decodes the thread names stream into a thread id -> name map
func (d *Dump) ThreadNames() (map[uint32]string, error) {
	data, err := d.streamData(ThreadNamesStream)
	if err != nil {
		return nil, err
	}

	count, ok := encoding.Uint32At(data, 0)
	if !ok {
		return nil, fmt.Errorf("thread names: missing count")
	}

	entrySize := uint64(binary.Size(rawThreadName{}))
	if 4+uint64(count)*entrySize > uint64(len(data)) {
		return nil, fmt.Errorf("thread names: %d entries exceed stream size %d", count, len(data))
	}

	r := bytes.NewReader(data[4:])
	names := make(map[uint32]string, count)
	for i := uint32(0); i < count; i++ {
		var raw rawThreadName
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("thread names entry %d: %w", i, err)
		}
		name, err := d.readString(raw.RvaOfThreadName)
		if err != nil {
			// One bad name should not hide the rest
			continue
		}
		if name != "" {
			names[raw.ThreadId] = name
		}
	}
	return names, nil
}

// ThreadInfo is MINIDUMP_THREAD_INFO (64 bytes)
type ThreadInfo struct {
	ThreadId     uint32
	DumpFlags    uint32
	DumpError    uint32
	ExitStatus   uint32
	CreateTime   uint64
	ExitTime     uint64
	KernelTime   uint64
	UserTime     uint64
	StartAddress uint64
	Affinity     uint64
}

// ThreadInfos decodes the extended thread info stream keyed by thread id
func (d *Dump) ThreadInfos() (map[uint32]ThreadInfo, error) {
	data, err := d.streamData(ThreadInfoListStream)
	if err != nil {
		return nil, err
	}

	entries, err := listEntries(data, "thread info", binary.Size(ThreadInfo{}))
	if err != nil {
		return nil, err
	}

	infos := make(map[uint32]ThreadInfo, len(entries))
	for i, entry := range entries {
		var ti ThreadInfo
		if err := binary.Read(bytes.NewReader(entry), binary.LittleEndian, &ti); err != nil {
			return nil, fmt.Errorf("thread info entry %d: %w", i, err)
		}
		infos[ti.ThreadId] = ti
	}
	return infos, nil
}

// listEntries splits a {SizeOfHeader, SizeOfEntry, NumberOfEntries} list
// stream into its entries. Used by the thread info list (32-bit count).
func listEntries(data []byte, what string, minEntry int) ([][]byte, error) {
	sizeOfHeader, ok1 := encoding.Uint32At(data, 0)
	sizeOfEntry, ok2 := encoding.Uint32At(data, 4)
	count, ok3 := encoding.Uint32At(data, 8)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%s: truncated header", what)
	}
	return splitEntries(data, what, uint64(sizeOfHeader), uint64(sizeOfEntry), uint64(count), minEntry)
}

func splitEntries(data []byte, what string, sizeOfHeader, sizeOfEntry, count uint64, minEntry int) ([][]byte, error) {
	if sizeOfEntry < uint64(minEntry) {
		return nil, fmt.Errorf("%s: entry size %d smaller than %d", what, sizeOfEntry, minEntry)
	}
	if sizeOfHeader > uint64(len(data)) || count > (uint64(len(data))-sizeOfHeader)/sizeOfEntry {
		return nil, fmt.Errorf("%s: %d entries exceed stream size %d", what, count, len(data))
	}

	entries := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		off := sizeOfHeader + i*sizeOfEntry
		entries = append(entries, data[off:off+sizeOfEntry])
	}
	return entries, nil
}

// MiscInfo flag bits (Flags1)
const (
	MiscProcessID          = 0x00000001
	MiscProcessTimes       = 0x00000002
	MiscProcessorPowerInfo = 0x00000004
	MiscProcessIntegrity   = 0x00000010
	MiscProcessExecuteFlag = 0x00000020
	MiscTimezone           = 0x00000040
	MiscProtectedProcess   = 0x00000080
	MiscBuildString        = 0x00000100
)

// MiscInfo holds the fields of MINIDUMP_MISC_INFO_N that are present.
// Nil fields were either flagged absent or beyond the stream size.
type MiscInfo struct {
	SizeOfInfo        uint32
	Flags1            uint32
	ProcessID         *uint32
	ProcessCreateTime *uint32
	IntegrityLevel    *uint32
	ExecuteFlags      *uint32
	ProtectedProcess  *uint32
}

// MiscInfo decodes the misc info stream
func (d *Dump) MiscInfo() (*MiscInfo, error) {
	data, err := d.streamData(MiscInfoStream)
	if err != nil {
		return nil, err
	}

	sizeOfInfo, ok1 := encoding.Uint32At(data, 0)
	flags, ok2 := encoding.Uint32At(data, 4)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("misc info: truncated header")
	}

	// Trust the smaller of the declared and actual sizes
	limit := int(sizeOfInfo)
	if limit > len(data) {
		limit = len(data)
	}
	view := data[:limit]

	field := func(flag uint32, off int) *uint32 {
		if flags&flag == 0 {
			return nil
		}
		v, ok := encoding.Uint32At(view, off)
		if !ok {
			return nil
		}
		return &v
	}

	return &MiscInfo{
		SizeOfInfo:        sizeOfInfo,
		Flags1:            flags,
		ProcessID:         field(MiscProcessID, 8),
		ProcessCreateTime: field(MiscProcessTimes, 12),
		IntegrityLevel:    field(MiscProcessIntegrity, 44),
		ExecuteFlags:      field(MiscProcessExecuteFlag, 48),
		ProtectedProcess:  field(MiscProtectedProcess, 52),
	}, nil
}

// rawException is MINIDUMP_EXCEPTION_STREAM (168 bytes)
type rawException struct {
	ThreadId             uint32
	Alignment            uint32
	ExceptionCode        uint32
	ExceptionFlags       uint32
	ExceptionRecord      uint64
	ExceptionAddress     uint64
	NumberParameters     uint32
	UnusedAlignment      uint32
	ExceptionInformation [15]uint64
	ThreadContext        LocationDescriptor
}

// Exception is the decoded exception record
type Exception struct {
	ThreadId         uint32
	Code             uint32
	Flags            uint32
	Address          uint64
	NumberParameters uint32
	Parameters       []uint64
}

// Exception decodes the exception stream
func (d *Dump) Exception() (*Exception, error) {
	data, err := d.streamData(ExceptionStream)
	if err != nil {
		return nil, err
	}

	var raw rawException
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("exception: %w", err)
	}

	n := raw.NumberParameters
	if n > uint32(len(raw.ExceptionInformation)) {
		n = uint32(len(raw.ExceptionInformation))
	}

	return &Exception{
		ThreadId:         raw.ThreadId,
		Code:             raw.ExceptionCode,
		Flags:            raw.ExceptionFlags,
		Address:          raw.ExceptionAddress,
		NumberParameters: raw.NumberParameters,
		Parameters:       append([]uint64(nil), raw.ExceptionInformation[:n]...),
	}, nil
}

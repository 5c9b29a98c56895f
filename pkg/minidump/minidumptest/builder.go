// Package minidumptest builds synthetic minidump images for tests.
package minidumptest

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/ineffectivecoder/DumpGooser/internal/encoding"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
)

const headerSize = 32

// Module describes one module list entry
type Module struct {
	Name          string
	Base          uint64
	Size          uint32
	Checksum      uint32
	TimeDateStamp uint32
	FileVersionMS uint32
	FileVersionLS uint32
}

// ThreadName pairs a thread id with its description
type ThreadName struct {
	ThreadID uint32
	Name     string
}

// MiscInfo selects the MINIDUMP_MISC_INFO fields to emit. Only fields whose
// flag bit is set in Flags are meaningful to readers.
type MiscInfo struct {
	Flags            uint32
	ProcessID        uint32
	CreateTime       uint32
	IntegrityLevel   uint32
	ExecuteFlags     uint32
	ProtectedProcess uint32
}

// Builder lays out streams back to back after the header and writes the
// stream directory last.
type Builder struct {
	buf           []byte
	dirs          []minidump.Directory
	timeDateStamp uint32
}

// New returns an empty builder
func New() *Builder {
	return &Builder{buf: make([]byte, headerSize)}
}

// SetTimeDateStamp sets the header timestamp
func (b *Builder) SetTimeDateStamp(ts uint32) *Builder {
	b.timeDateStamp = ts
	return b
}

func (b *Builder) rva() uint32 {
	return uint32(len(b.buf))
}

func (b *Builder) writeStruct(v interface{}) {
	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	b.buf = append(b.buf, out.Bytes()...)
}

// writeString appends a MINIDUMP_STRING and returns its RVA
func (b *Builder) writeString(s string) uint32 {
	rva := b.rva()
	utf16 := encoding.ToUTF16LE(s)
	b.buf = encoding.AppendUint32LE(b.buf, uint32(len(utf16)))
	b.buf = append(b.buf, utf16...)
	b.buf = append(b.buf, 0, 0)
	return rva
}

// stream records a directory entry for everything appended since start
func (b *Builder) stream(t uint32, start uint32) {
	b.dirs = append(b.dirs, minidump.Directory{
		StreamType: t,
		DataSize:   b.rva() - start,
		RVA:        start,
	})
}

// AddRaw appends an arbitrary stream payload
func (b *Builder) AddRaw(t uint32, payload []byte) *Builder {
	start := b.rva()
	b.buf = append(b.buf, payload...)
	b.stream(t, start)
	return b
}

// AddSystemInfo appends a system info stream
func (b *Builder) AddSystemInfo(rec minidump.SystemInfoRecord, csdVersion string) *Builder {
	if csdVersion != "" {
		rec.CSDVersionRva = b.writeString(csdVersion)
	}
	start := b.rva()
	b.writeStruct(rec)
	b.stream(minidump.SystemInfoStream, start)
	return b
}

// AddModules appends a module list stream
func (b *Builder) AddModules(modules ...Module) *Builder {
	nameRvas := make([]uint32, len(modules))
	for i, m := range modules {
		nameRvas[i] = b.writeString(m.Name)
	}

	start := b.rva()
	b.buf = encoding.AppendUint32LE(b.buf, uint32(len(modules)))
	for i, m := range modules {
		b.buf = encoding.AppendUint64LE(b.buf, m.Base)
		b.buf = encoding.AppendUint32LE(b.buf, m.Size)
		b.buf = encoding.AppendUint32LE(b.buf, m.Checksum)
		b.buf = encoding.AppendUint32LE(b.buf, m.TimeDateStamp)
		b.buf = encoding.AppendUint32LE(b.buf, nameRvas[i])
		b.writeStruct(minidump.FixedFileInfo{
			Signature:     0xFEEF04BD,
			FileVersionMS: m.FileVersionMS,
			FileVersionLS: m.FileVersionLS,
		})
		// CvRecord, MiscRecord, Reserved0, Reserved1
		b.buf = append(b.buf, make([]byte, 8+8+8+8)...)
	}
	b.stream(minidump.ModuleListStream, start)
	return b
}

// AddThreads appends a thread list stream
func (b *Builder) AddThreads(threads ...minidump.Thread) *Builder {
	start := b.rva()
	b.buf = encoding.AppendUint32LE(b.buf, uint32(len(threads)))
	for _, t := range threads {
		b.writeStruct(t)
	}
	b.stream(minidump.ThreadListStream, start)
	return b
}

// AddThreadNames appends a thread names stream
func (b *Builder) AddThreadNames(names ...ThreadName) *Builder {
	rvas := make([]uint32, len(names))
	for i, n := range names {
		rvas[i] = b.writeString(n.Name)
	}

	start := b.rva()
	b.buf = encoding.AppendUint32LE(b.buf, uint32(len(names)))
	for i, n := range names {
		b.buf = encoding.AppendUint32LE(b.buf, n.ThreadID)
		b.buf = encoding.AppendUint64LE(b.buf, uint64(rvas[i]))
	}
	b.stream(minidump.ThreadNamesStream, start)
	return b
}

// AddThreadInfo appends a thread info list stream
func (b *Builder) AddThreadInfo(infos ...minidump.ThreadInfo) *Builder {
	entrySize := uint32(binary.Size(minidump.ThreadInfo{}))

	start := b.rva()
	b.buf = encoding.AppendUint32LE(b.buf, 12)
	b.buf = encoding.AppendUint32LE(b.buf, entrySize)
	b.buf = encoding.AppendUint32LE(b.buf, uint32(len(infos)))
	for _, ti := range infos {
		b.writeStruct(ti)
	}
	b.stream(minidump.ThreadInfoListStream, start)
	return b
}

// AddMiscInfo appends a MINIDUMP_MISC_INFO_3 sized misc info stream
func (b *Builder) AddMiscInfo(mi MiscInfo) *Builder {
	const size = 232
	payload := make([]byte, size)
	binary.LittleEndian.PutUint32(payload[0:], size)
	binary.LittleEndian.PutUint32(payload[4:], mi.Flags)
	binary.LittleEndian.PutUint32(payload[8:], mi.ProcessID)
	binary.LittleEndian.PutUint32(payload[12:], mi.CreateTime)
	binary.LittleEndian.PutUint32(payload[44:], mi.IntegrityLevel)
	binary.LittleEndian.PutUint32(payload[48:], mi.ExecuteFlags)
	binary.LittleEndian.PutUint32(payload[52:], mi.ProtectedProcess)
	return b.AddRaw(minidump.MiscInfoStream, payload)
}

// AddMemoryList appends a 32-bit memory list stream
func (b *Builder) AddMemoryList(regions ...minidump.MemoryRegion) *Builder {
	rvas := make([]uint32, len(regions))
	for i, r := range regions {
		rvas[i] = b.rva()
		b.buf = append(b.buf, r.Bytes...)
	}

	start := b.rva()
	b.buf = encoding.AppendUint32LE(b.buf, uint32(len(regions)))
	for i, r := range regions {
		b.buf = encoding.AppendUint64LE(b.buf, r.Base)
		b.buf = encoding.AppendUint32LE(b.buf, uint32(len(r.Bytes)))
		b.buf = encoding.AppendUint32LE(b.buf, rvas[i])
	}
	b.stream(minidump.MemoryListStream, start)
	return b
}

// AddMemory64List appends a full-memory list stream followed by its data
func (b *Builder) AddMemory64List(regions ...minidump.MemoryRegion) *Builder {
	start := b.rva()
	baseRva := uint64(start) + 16 + 16*uint64(len(regions))

	b.buf = encoding.AppendUint64LE(b.buf, uint64(len(regions)))
	b.buf = encoding.AppendUint64LE(b.buf, baseRva)
	for _, r := range regions {
		b.buf = encoding.AppendUint64LE(b.buf, r.Base)
		b.buf = encoding.AppendUint64LE(b.buf, uint64(len(r.Bytes)))
	}
	b.stream(minidump.Memory64ListStream, start)

	for _, r := range regions {
		b.buf = append(b.buf, r.Bytes...)
	}
	return b
}

// AddMemoryInfo appends a memory info list stream
func (b *Builder) AddMemoryInfo(entries ...minidump.MemoryInfo) *Builder {
	entrySize := uint32(binary.Size(minidump.MemoryInfo{}))

	start := b.rva()
	b.buf = encoding.AppendUint32LE(b.buf, 16)
	b.buf = encoding.AppendUint32LE(b.buf, entrySize)
	b.buf = encoding.AppendUint64LE(b.buf, uint64(len(entries)))
	for _, e := range entries {
		b.writeStruct(e)
	}
	b.stream(minidump.MemoryInfoListStream, start)
	return b
}

// AddException appends an exception stream
func (b *Builder) AddException(e minidump.Exception) *Builder {
	start := b.rva()
	b.buf = encoding.AppendUint32LE(b.buf, e.ThreadId)
	b.buf = encoding.AppendUint32LE(b.buf, 0)
	b.buf = encoding.AppendUint32LE(b.buf, e.Code)
	b.buf = encoding.AppendUint32LE(b.buf, e.Flags)
	b.buf = encoding.AppendUint64LE(b.buf, 0)
	b.buf = encoding.AppendUint64LE(b.buf, e.Address)
	b.buf = encoding.AppendUint32LE(b.buf, e.NumberParameters)
	b.buf = encoding.AppendUint32LE(b.buf, 0)
	for i := 0; i < 15; i++ {
		var p uint64
		if i < len(e.Parameters) {
			p = e.Parameters[i]
		}
		b.buf = encoding.AppendUint64LE(b.buf, p)
	}
	// ThreadContext
	b.buf = append(b.buf, make([]byte, 8)...)
	b.stream(minidump.ExceptionStream, start)
	return b
}

// Bytes finalizes the image: directory at the end, header at offset 0.
// The builder can keep accepting streams afterwards.
func (b *Builder) Bytes() []byte {
	out := append([]byte(nil), b.buf...)
	dirRva := uint32(len(out))
	for _, d := range b.dirs {
		out = encoding.AppendUint32LE(out, d.StreamType)
		out = encoding.AppendUint32LE(out, d.DataSize)
		out = encoding.AppendUint32LE(out, d.RVA)
	}

	binary.LittleEndian.PutUint32(out[0:], 0x504D444D)
	binary.LittleEndian.PutUint32(out[4:], 0xA793)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(b.dirs)))
	binary.LittleEndian.PutUint32(out[12:], dirRva)
	binary.LittleEndian.PutUint32(out[16:], 0)
	binary.LittleEndian.PutUint32(out[20:], b.timeDateStamp)
	binary.LittleEndian.PutUint64(out[24:], 0)
	return out
}

// WriteFile writes the finalized image to path
func (b *Builder) WriteFile(path string) error {
	return os.WriteFile(path, b.Bytes(), 0o600)
}

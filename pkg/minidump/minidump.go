// Package minidump provides parsing for Windows minidump files.
//
// Parse validates the header and stream directory only. Individual streams
// are decoded on demand by the typed accessors, so a damaged or missing
// stream never prevents reading the others.
package minidump

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/ineffectivecoder/DumpGooser/internal/encoding"
)

// Minidump file signature
const minidumpSignature = 0x504D444D // "MDMP"

// Stream types
const (
	UnusedStream         = 0
	ThreadListStream     = 3
	ModuleListStream     = 4
	MemoryListStream     = 5
	ExceptionStream      = 6
	SystemInfoStream     = 7
	Memory64ListStream   = 9
	MiscInfoStream       = 15
	MemoryInfoListStream = 16
	ThreadInfoListStream = 17
	ThreadNamesStream    = 24
)

const (
	headerSize    = 32
	directorySize = 12
)

// ErrStreamNotFound is returned by the stream accessors when the dump does
// not carry the requested stream.
var ErrStreamNotFound = errors.New("stream not present")

// Header represents the minidump file header
type Header struct {
	Signature          uint32
	Version            uint32
	NumberOfStreams    uint32
	StreamDirectoryRVA uint32
	Checksum           uint32
	TimeDateStamp      uint32
	Flags              uint64
}

// Directory entry for streams
type Directory struct {
	StreamType uint32
	DataSize   uint32
	RVA        uint32
}

// LocationDescriptor points at a blob inside the file.
type LocationDescriptor struct {
	DataSize uint32
	RVA      uint32
}

// Dump represents a parsed minidump file
type Dump struct {
	Header    Header
	Directory []Directory

	data []byte
}

// ReadFile reads and parses a minidump from disk.
func ReadFile(path string) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a minidump file from raw bytes
func Parse(data []byte) (*Dump, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("file too small for minidump header")
	}

	r := bytes.NewReader(data)
	dump := &Dump{data: data}

	if err := binary.Read(r, binary.LittleEndian, &dump.Header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if dump.Header.Signature != minidumpSignature {
		return nil, fmt.Errorf("invalid minidump signature: 0x%08X", dump.Header.Signature)
	}

	if err := dump.parseDirectory(); err != nil {
		return nil, fmt.Errorf("failed to parse stream directory: %w", err)
	}

	return dump, nil
}

// parseDirectory reads the stream directory entries
func (d *Dump) parseDirectory() error {
	start := uint64(d.Header.StreamDirectoryRVA)
	end := start + uint64(d.Header.NumberOfStreams)*directorySize
	if end > uint64(len(d.data)) {
		return fmt.Errorf("directory of %d streams at 0x%X exceeds file size %d",
			d.Header.NumberOfStreams, start, len(d.data))
	}

	r := bytes.NewReader(d.data[start:end])
	d.Directory = make([]Directory, d.Header.NumberOfStreams)
	for i := range d.Directory {
		if err := binary.Read(r, binary.LittleEndian, &d.Directory[i]); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the size of the underlying file in bytes.
func (d *Dump) Size() int {
	return len(d.data)
}

// HasStream reports whether the directory lists a stream of type t.
func (d *Dump) HasStream(t uint32) bool {
	_, ok := d.findStream(t)
	return ok
}

// findStream returns the first directory entry of type t
func (d *Dump) findStream(t uint32) (Directory, bool) {
	for _, dir := range d.Directory {
		if dir.StreamType == t {
			return dir, true
		}
	}
	return Directory{}, false
}

// streamData returns the bytes of the first stream of type t
func (d *Dump) streamData(t uint32) ([]byte, error) {
	dir, ok := d.findStream(t)
	if !ok {
		return nil, ErrStreamNotFound
	}
	return d.slice(uint64(dir.RVA), uint64(dir.DataSize))
}

// slice returns data[rva:rva+size] with bounds checking
func (d *Dump) slice(rva, size uint64) ([]byte, error) {
	end := rva + size
	if end < rva || end > uint64(len(d.data)) {
		return nil, fmt.Errorf("range 0x%X+0x%X out of bounds", rva, size)
	}
	return d.data[rva:end], nil
}

// readString reads a MINIDUMP_STRING at the given RVA
func (d *Dump) readString(rva uint64) (string, error) {
	if rva+4 > uint64(len(d.data)) {
		return "", fmt.Errorf("string at 0x%X out of bounds", rva)
	}

	length := uint64(binary.LittleEndian.Uint32(d.data[rva:]))
	if length > 64*1024 {
		return "", fmt.Errorf("string at 0x%X too long (%d bytes)", rva, length)
	}
	buf, err := d.slice(rva+4, length)
	if err != nil {
		return "", err
	}
	return encoding.FromUTF16LE(buf), nil
}

// StreamTypeName returns a readable name for a stream type
func StreamTypeName(t uint32) string {
	names := map[uint32]string{
		UnusedStream:         "Unused",
		ThreadListStream:     "ThreadList",
		ModuleListStream:     "ModuleList",
		MemoryListStream:     "MemoryList",
		ExceptionStream:      "Exception",
		SystemInfoStream:     "SystemInfo",
		Memory64ListStream:   "Memory64List",
		MiscInfoStream:       "MiscInfo",
		MemoryInfoListStream: "MemoryInfoList",
		ThreadInfoListStream: "ThreadInfoList",
		ThreadNamesStream:    "ThreadNames",
		21:                   "SystemMemoryInfo",
		22:                   "ProcessVmCounters",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineffectivecoder/DumpGooser/internal/encoding"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

func TestParseArgs(t *testing.T) {
	assert.Equal(t, []string{"load", `C:\dumps\my app.dmp`, "-wait"},
		parseArgs(`load "C:\dumps\my app.dmp" -wait`))
	assert.Equal(t, []string{"search", "it's"}, parseArgs(`search "it's"`))
	assert.Empty(t, parseArgs("   "))
}

func TestParseAddress(t *testing.T) {
	v, err := parseAddress("0x7ff6`12340000")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7ff612340000), v)

	v, err = parseAddress("1000")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), v)

	_, err = parseAddress("zz")
	assert.Error(t, err)
}

func TestParseUint(t *testing.T) {
	v, err := parseUint("0x10")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), v)

	v, err = parseUint("10")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), v)
}

func TestHexdump(t *testing.T) {
	data := []byte("ABCDEFGHIJKLMNOPqr")
	out := hexdump(0x1000, data)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "  0000000000001000  41 42 43 44 45 46 47 48-49"))
	assert.True(t, strings.HasSuffix(lines[0], "ABCDEFGHIJKLMNOP"))
	assert.True(t, strings.HasPrefix(lines[1], "  0000000000001010  71 72"))
	assert.True(t, strings.HasSuffix(lines[1], "qr"))
}

func TestSearchMemory(t *testing.T) {
	data := append([]byte("xxcmd.exe yy"), encoding.ToUTF16LE("cmd.exe")...)
	regions := []minidump.MemoryRegion{{Base: 0x2000, Bytes: data}}

	hits := searchMemory(regions, "cmd.exe", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, uint64(0x2002), hits[0].Addr)
	assert.Equal(t, "ascii", hits[0].Encoding)
	assert.Equal(t, uint64(0x2000+12), hits[1].Addr)
	assert.Equal(t, "utf16le", hits[1].Encoding)
	assert.Equal(t, "cmd.exe", printableContext(hits[1].Context))

	assert.Len(t, searchMemory(regions, "cmd.exe", 1), 1)
}

func TestSortedDetections(t *testing.T) {
	dets := []model.Detection{
		{Severity: model.Warning, Title: "w1"},
		{Severity: model.High, Title: "h1"},
		{Severity: model.Info, Title: "i1"},
		{Severity: model.Warning, Title: "w2"},
	}
	var titles []string
	for _, d := range sortedDetections(dets) {
		titles = append(titles, d.Title)
	}
	assert.Equal(t, []string{"h1", "w1", "w2", "i1"}, titles)
}

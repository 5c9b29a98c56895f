package execscan

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineffectivecoder/DumpGooser/internal/encoding"
	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

func region(base uint64, parts ...[]byte) minidump.MemoryRegion {
	return minidump.MemoryRegion{Base: base, Bytes: bytes.Join(parts, nil)}
}

func nul(n int) []byte { return make([]byte, n) }

func TestASCIICommandLine(t *testing.T) {
	r := region(0x1000, nul(4), []byte("cmd.exe /c whoami"), nul(4))

	arts := Scan([]minidump.MemoryRegion{r})
	require.Len(t, arts, 1)
	assert.Equal(t, model.EncodingASCII, arts[0].Encoding)
	assert.Equal(t, "cmd.exe", arts[0].Image)
	assert.Equal(t, "cmd.exe /c whoami", arts[0].CommandLine)
	require.NotNil(t, arts[0].Address)
	assert.Equal(t, uint64(0x1004), *arts[0].Address)
}

func TestUTF16CommandLine(t *testing.T) {
	r := region(0x2000, nul(2), encoding.ToUTF16LE(`powershell -nop -w hidden`), nul(2))

	arts := Scan([]minidump.MemoryRegion{r})
	require.Len(t, arts, 1)
	assert.Equal(t, model.EncodingUTF16LE, arts[0].Encoding)
	assert.Equal(t, "powershell", arts[0].Image)
	assert.Equal(t, uint64(0x2002), *arts[0].Address)
}

func TestLengthBounds(t *testing.T) {
	short := []byte("a.exe /c x") // 10 chars
	long := []byte("run.exe " + strings.Repeat("A", 800))
	exact := []byte("x.exe " + strings.Repeat("B", 794)) // 800 chars

	arts := Scan([]minidump.MemoryRegion{region(0, short, nul(1), long, nul(1), exact)})
	require.Len(t, arts, 1)
	assert.Len(t, arts[0].CommandLine, 800)

	wide := encoding.ToUTF16LE("run.exe " + strings.Repeat("A", 800))
	assert.Empty(t, Scan([]minidump.MemoryRegion{region(0, wide)}))
}

func TestDedupAcrossRegions(t *testing.T) {
	first := region(0x1000, []byte("CMD.EXE  /c   whoami"), nul(1))
	second := region(0x9000, []byte("cmd.exe /c whoami"), nul(1))

	arts := Scan([]minidump.MemoryRegion{first, second})
	require.Len(t, arts, 1)
	assert.Equal(t, "CMD.EXE  /c   whoami", arts[0].CommandLine)
	assert.Equal(t, uint64(0x1000), *arts[0].Address)
}

func TestASCIIAndUTF16BothFire(t *testing.T) {
	r := region(0, []byte("certutil -urlcache -f x"), nul(8), encoding.ToUTF16LE("rundll32.exe shell32.dll,Control_RunDLL"))

	arts, stats := New(0, 0).Scan([]minidump.MemoryRegion{r})
	require.Len(t, arts, 2)
	assert.Equal(t, model.EncodingASCII, arts[0].Encoding)
	assert.Equal(t, model.EncodingUTF16LE, arts[1].Encoding)
	assert.Equal(t, 2, stats.RawHits)
	assert.False(t, stats.Capped)
}

func TestArtifactCap(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&buf, "tool%03d.exe --run", i)
		buf.WriteByte(0)
	}

	arts, stats := New(0, 0).Scan([]minidump.MemoryRegion{{Base: 0, Bytes: buf.Bytes()}})
	assert.Len(t, arts, DefaultMaxArtifacts)
	assert.True(t, stats.Capped)
	assert.Equal(t, "tool000.exe --run", arts[0].CommandLine)
}

func TestByteCap(t *testing.T) {
	line := []byte("cmd.exe /c dir")
	regions := []minidump.MemoryRegion{
		region(0x1000, nul(64)),
		// The command sits past the byte budget
		region(0x2000, nul(64), line),
	}

	arts, stats := New(100, 10).Scan(regions)
	assert.Empty(t, arts)
	assert.Equal(t, 100, stats.BytesScanned)
	assert.Equal(t, 2, stats.RegionsScanned)
	assert.True(t, stats.Capped)

	arts, _ = New(64+64+len(line), 10).Scan(regions)
	assert.Len(t, arts, 1)
}

func TestRejectsControlAndNonIndicator(t *testing.T) {
	assert.False(t, IsLikelyCommandLine("just some harmless text"))
	assert.False(t, IsLikelyCommandLine("cmd.exe\t/c whoami"))
	assert.False(t, IsLikelyCommandLine("cmd.exe /c caf\u00e9"))
	assert.True(t, IsLikelyCommandLine("python3 -m http.server"))
	assert.True(t, IsLikelyCommandLine("C:\\tools\\RUN.BAT now"))
}

func TestParseImage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`cmd.exe /c whoami`, "cmd.exe"},
		{`"C:\Program Files\App\app.exe" --flag`, `C:\Program Files\App\app.exe`},
		{`"  spaced.exe  " x`, "spaced.exe"},
		{`"unterminated.exe arg`, `"unterminated.exe`},
		{`   leading.exe arg`, "leading.exe"},
		{``, ""},
	}
	for _, tt := range tests {
		if got := ParseImage(tt.in); got != tt.want {
			t.Errorf("ParseImage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "cmd.exe /c whoami", NormalizeKey("  CMD.exe \t /C   WhoAmI "))
}

func TestTrailingWhitespaceTrimmed(t *testing.T) {
	r := region(0, []byte("  wmic process list   "), nul(1))
	arts := Scan([]minidump.MemoryRegion{r})
	require.Len(t, arts, 1)
	assert.Equal(t, "wmic process list", arts[0].CommandLine)
	assert.Equal(t, "wmic", arts[0].Image)
}

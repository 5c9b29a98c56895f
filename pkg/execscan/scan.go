// Package execscan recovers command-line-like strings from raw process
// memory. Scanning is best effort and bounded by a byte budget and an
// artifact cap.
package execscan

import (
	"strings"
	"unicode"

	"github.com/ineffectivecoder/DumpGooser/pkg/minidump"
	"github.com/ineffectivecoder/DumpGooser/pkg/model"
)

// Default limits
const (
	DefaultMaxBytes     = 32 * 1024 * 1024
	DefaultMaxArtifacts = 200
)

// Stats describes one scan
type Stats struct {
	BytesScanned   int
	RegionsScanned int
	Candidates     int // runs inside the length bounds
	RawHits        int // artifacts before dedup
	Capped         bool
}

// Scanner holds the scan limits. The zero value uses the defaults.
type Scanner struct {
	MaxBytes     int
	MaxArtifacts int
}

// New returns a scanner with the given limits
func New(maxBytes, maxArtifacts int) *Scanner {
	return &Scanner{MaxBytes: maxBytes, MaxArtifacts: maxArtifacts}
}

// Scan uses the default limits
func Scan(regions []minidump.MemoryRegion) []model.ProcessExecArtifact {
	out, _ := (&Scanner{}).Scan(regions)
	return out
}

func (s *Scanner) limits() (int, int) {
	maxBytes, maxArtifacts := s.MaxBytes, s.MaxArtifacts
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxArtifacts <= 0 {
		maxArtifacts = DefaultMaxArtifacts
	}
	return maxBytes, maxArtifacts
}

// scan is the per-call state
type scan struct {
	maxArtifacts int
	out          []model.ProcessExecArtifact
	stats        Stats
}

func (sc *scan) full() bool {
	return len(sc.out) >= sc.maxArtifacts
}

// Scan walks regions in order, ASCII then UTF-16LE over each, and returns
// the deduplicated artifacts in discovery order.
func (s *Scanner) Scan(regions []minidump.MemoryRegion) ([]model.ProcessExecArtifact, Stats) {
	maxBytes, maxArtifacts := s.limits()
	sc := &scan{maxArtifacts: maxArtifacts}

	for _, region := range regions {
		if sc.stats.BytesScanned >= maxBytes || sc.full() {
			sc.stats.Capped = true
			break
		}

		take := len(region.Bytes)
		if remaining := maxBytes - sc.stats.BytesScanned; take > remaining {
			take = remaining
			sc.stats.Capped = true
		}
		sc.region(region.Bytes[:take], region.Base)
		sc.stats.BytesScanned += take
		sc.stats.RegionsScanned++
	}
	if sc.full() {
		sc.stats.Capped = true
	}

	sc.stats.RawHits = len(sc.out)
	return Dedup(sc.out, maxArtifacts), sc.stats
}

func (sc *scan) region(b []byte, base uint64) {
	if len(b) == 0 || sc.full() {
		return
	}
	sc.ascii(b, base)
	if sc.full() {
		return
	}
	sc.utf16(b, base)
}

func isPrintable(c byte) bool {
	return c == '\t' || (c >= 0x20 && c <= 0x7E)
}

func (sc *scan) ascii(b []byte, base uint64) {
	i := 0
	for i < len(b) && !sc.full() {
		if !isPrintable(b[i]) {
			i++
			continue
		}
		start := i
		for i < len(b) && isPrintable(b[i]) {
			i++
		}
		sc.candidate(string(b[start:i]), i-start, base+uint64(start), model.EncodingASCII)
	}
}

func (sc *scan) utf16(b []byte, base uint64) {
	i := 0
	for i+1 < len(b) && !sc.full() {
		if b[i+1] != 0 || !isPrintable(b[i]) {
			i++
			continue
		}
		start := i
		var sb strings.Builder
		for i+1 < len(b) && b[i+1] == 0 && isPrintable(b[i]) {
			sb.WriteByte(b[i])
			i += 2
		}
		sc.candidate(sb.String(), sb.Len(), base+uint64(start), model.EncodingUTF16LE)
	}
}

// candidate qualifies a maximal run of n characters
func (sc *scan) candidate(run string, n int, addr uint64, enc model.ExecArtifactEncoding) {
	if n < MinCandidateLen || n > MaxCandidateLen {
		return
	}
	sc.stats.Candidates++

	text := strings.TrimSpace(run)
	if !IsLikelyCommandLine(text) {
		return
	}
	a := addr
	sc.out = append(sc.out, model.ProcessExecArtifact{
		Image:       ParseImage(text),
		CommandLine: text,
		Encoding:    enc,
		Address:     &a,
	})
}

// IsLikelyCommandLine reports whether s looks like a command invocation:
// bounded length, at least one indicator, and only non-control ASCII.
func IsLikelyCommandLine(s string) bool {
	if len(s) < MinCandidateLen || len(s) > MaxCandidateLen {
		return false
	}

	for _, r := range s {
		if r > unicode.MaxASCII || unicode.IsControl(r) {
			return false
		}
	}

	lc := strings.ToLower(s)
	for _, ind := range Indicators {
		if strings.Contains(lc, ind) {
			return true
		}
	}
	return false
}

// ParseImage extracts the executable part of a command line: the content
// of a leading quoted segment when it is closed, else the first token.
func ParseImage(commandLine string) string {
	s := strings.TrimLeftFunc(commandLine, unicode.IsSpace)
	if s == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(s, `"`); ok {
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	if end := strings.IndexFunc(s, unicode.IsSpace); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// NormalizeKey is the dedup key: trimmed, whitespace runs collapsed to one
// space, lowercased.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Dedup keeps the first artifact per NormalizeKey and truncates to limit
func Dedup(artifacts []model.ProcessExecArtifact, limit int) []model.ProcessExecArtifact {
	seen := make(map[string]bool, len(artifacts))
	out := make([]model.ProcessExecArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		key := NormalizeKey(a.CommandLine)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

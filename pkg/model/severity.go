package model

import "fmt"

// Severity of a detection, event, or injected region. High > Warning > Info.
type Severity int

const (
	Info Severity = iota
	Warning
	High
)

// Label returns the short uppercase tag used in listings
func (s Severity) Label() string {
	switch s {
	case High:
		return "HIGH"
	case Warning:
		return "WARN"
	default:
		return "INFO"
	}
}

// Rank orders severities for sorting: 0 = High, 1 = Warning, 2 = Info
func (s Severity) Rank() int {
	switch s {
	case High:
		return 0
	case Warning:
		return 1
	default:
		return 2
	}
}

func (s Severity) String() string {
	switch s {
	case High:
		return "high"
	case Warning:
		return "warning"
	case Info:
		return "info"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "high":
		*s = High
	case "warning":
		*s = Warning
	case "info":
		*s = Info
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// ParseSeverity accepts either the label or the lowercase name
func ParseSeverity(v string) (Severity, error) {
	switch v {
	case "HIGH", "high":
		return High, nil
	case "WARN", "warn", "warning":
		return Warning, nil
	case "INFO", "info":
		return Info, nil
	}
	return Info, fmt.Errorf("unknown severity %q", v)
}

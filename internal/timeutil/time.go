// Package timeutil converts the Windows time representations found in
// minidump streams.
package timeutil

import "time"

const (
	windowsToUnixEpochSecs = 11_644_473_600
	filetimeTicksPerSec    = 10_000_000
)

// FiletimeToUnix converts a FILETIME (100ns ticks since 1601-01-01 UTC) to
// unix seconds. Zero and pre-1970 values report false.
func FiletimeToUnix(filetime uint64) (uint64, bool) {
	if filetime == 0 {
		return 0, false
	}
	secs := filetime / filetimeTicksPerSec
	if secs < windowsToUnixEpochSecs {
		return 0, false
	}
	return secs - windowsToUnixEpochSecs, true
}

// UnixToUTCString renders unix seconds as "2006-01-02 15:04:05 UTC".
func UnixToUTCString(unix uint64) string {
	return time.Unix(int64(unix), 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

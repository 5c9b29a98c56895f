// Package debug provides global debug/verbose logging control backed by logrus.
package debug

import (
	"github.com/sirupsen/logrus"
)

// Logger receives all debug output. The CLI replaces it with its own logger.
var Logger = logrus.StandardLogger()

// Verbose controls whether debug output is enabled
var Verbose bool

// SetLogger installs l as the debug sink and syncs Verbose with its level.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		return
	}
	Logger = l
	Verbose = l.IsLevelEnabled(logrus.DebugLevel)
}

// Printf prints debug output if verbose mode is enabled
func Printf(format string, args ...interface{}) {
	if Verbose {
		Logger.Debugf(format, args...)
	}
}

// WithField returns a debug entry tagged with key=value.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

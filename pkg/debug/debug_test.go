package debug

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetLoggerTracksLevel(t *testing.T) {
	prev, prevVerbose := Logger, Verbose
	defer func() { Logger, Verbose = prev, prevVerbose }()

	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.InfoLevel)

	SetLogger(l)
	assert.False(t, Verbose)
	Printf("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.SetLevel(logrus.DebugLevel)
	SetLogger(l)
	assert.True(t, Verbose)
	Printf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")

	SetLogger(nil)
	assert.Same(t, l, Logger)
}

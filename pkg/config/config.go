// Package config holds the engine settings shared by the CLI and the
// ingestion pipeline. Flags set the base values; environment variables
// override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// SymbolPathEnvVars are read in order and unioned
var SymbolPathEnvVars = []string{"DUMPGOOSER_SYMBOL_PATH", "MINIDUMP_SYMBOL_PATH"}

// LocalSymbolsDir is appended to the symbol paths when it exists
const LocalSymbolsDir = "symbols"

// DefaultStackwalker is the external stackwalk binary looked up in PATH
const DefaultStackwalker = "minidump-stackwalk"

// Scanner limits
const (
	DefaultMaxScanBytes = 32 * 1024 * 1024
	DefaultMaxArtifacts = 200
)

// Config is the engine configuration
type Config struct {
	SymbolPaths      []string
	StackwalkBinary  string
	DisableStackwalk bool
	MaxScanBytes     int
	MaxArtifacts     int
	LogLevel         string
	LogJSON          bool
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		StackwalkBinary: DefaultStackwalker,
		MaxScanBytes:    DefaultMaxScanBytes,
		MaxArtifacts:    DefaultMaxArtifacts,
		LogLevel:        "info",
	}
}

// FromEnv applies environment overrides on top of c
func (c *Config) FromEnv(logger *logrus.Logger) {
	c.ApplyEnv(os.Getenv, logger)
}

// ApplyEnv applies overrides using getenv as the variable source
func (c *Config) ApplyEnv(getenv func(string) string, logger *logrus.Logger) {
	if v := getenv("DUMPGOOSER_STACKWALKER"); v != "" {
		c.StackwalkBinary = v
	}
	if v := getenv("DUMPGOOSER_NO_STACKWALK"); v != "" {
		disable, err := strconv.ParseBool(v)
		if err != nil {
			if logger != nil {
				logger.WithField("value", v).Warn("Invalid DUMPGOOSER_NO_STACKWALK, ignoring")
			}
		} else {
			c.DisableStackwalk = disable
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	c.SymbolPaths = MergeSymbolPaths(c.SymbolPaths, DiscoverSymbolPaths(getenv, LocalSymbolsDir))
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.MaxScanBytes <= 0 {
		return fmt.Errorf("max scan bytes must be positive, got %d", c.MaxScanBytes)
	}
	if c.MaxArtifacts <= 0 {
		return fmt.Errorf("max artifacts must be positive, got %d", c.MaxArtifacts)
	}
	if !c.DisableStackwalk && c.StackwalkBinary == "" {
		return fmt.Errorf("stackwalk binary not set")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// DiscoverSymbolPaths splits every symbol path variable with the platform
// list separator, skipping empty entries and duplicates. localDir is
// appended when it is an existing directory not already listed.
func DiscoverSymbolPaths(getenv func(string) string, localDir string) []string {
	var paths []string
	for _, key := range SymbolPathEnvVars {
		raw := getenv(key)
		if raw == "" {
			continue
		}
		paths = MergeSymbolPaths(paths, filepath.SplitList(raw))
	}

	if localDir != "" {
		if st, err := os.Stat(localDir); err == nil && st.IsDir() {
			paths = MergeSymbolPaths(paths, []string{localDir})
		}
	}
	return paths
}

// MergeSymbolPaths appends extra to base, keeping first occurrences
func MergeSymbolPaths(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Package debug writes diagnostics for agency commands. Stdout carries the
// JSON result of a command, so every line here goes to stderr.
package debug

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

type logger struct {
	mu      sync.Mutex
	w       io.Writer
	env     bool
	verbose bool
	quiet   bool
}

var std = &logger{w: os.Stderr, env: os.Getenv("AGENCY_DEBUG") != ""}

// Enabled reports whether Logf output is on, either from AGENCY_DEBUG or
// --verbose.
func Enabled() bool {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.env || std.verbose
}

func SetVerbose(on bool) {
	std.mu.Lock()
	std.verbose = on
	std.mu.Unlock()
}

// SetQuiet silences Warnf.
func SetQuiet(on bool) {
	std.mu.Lock()
	std.quiet = on
	std.mu.Unlock()
}

// SetOutput redirects both Logf and Warnf and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	std.mu.Lock()
	defer std.mu.Unlock()
	prev := std.w
	std.w = w
	return prev
}

// Logf writes format as is when debugging is enabled.
func Logf(format string, args ...interface{}) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.env || std.verbose {
		fmt.Fprintf(std.w, format, args...)
	}
}

// Warnf writes a single "Warning: " line unless quiet. A trailing newline in
// format is not doubled.
func Warnf(format string, args ...interface{}) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.quiet {
		return
	}
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintf(std.w, "Warning: %s\n", msg)
}

// Package logger provides leveled logging for the ingestion and conversation
// pipelines. Debug and Info output is only written in verbose mode; warnings
// and errors are always written.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	now               = time.Now
)

// SetVerbose enables or disables debug and info output.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose reports whether verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput redirects log output. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Debug logs pipeline internals in verbose mode.
func Debug(format string, args ...any) {
	write(true, "DEBUG", format, args...)
}

// Info logs pipeline milestones in verbose mode.
func Info(format string, args ...any) {
	write(true, "INFO", format, args...)
}

// Warn logs a recoverable problem.
func Warn(format string, args ...any) {
	write(false, "WARN", format, args...)
}

// Error logs a failure surfaced to the caller.
func Error(format string, args ...any) {
	write(false, "ERROR", format, args...)
}

// Section prints a header separating pipeline stages in verbose mode.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

func write(verboseOnly bool, level, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verboseOnly && !verbose {
		return
	}
	ts := now().UTC().Format("15:04:05.000")
	fmt.Fprintf(output, "%s [%s] %s\n", ts, level, fmt.Sprintf(format, args...))
}

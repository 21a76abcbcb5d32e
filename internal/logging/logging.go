// Package logging provides a small leveled logger for the broker and
// its peers: debug output is gated behind a verbosity flag while info
// and error messages always surface, timestamped to the millisecond.
//
// There is no global instance; each Broker and Peer is constructed
// with its own *Logger, passed in rather than reached for through a
// package-level variable.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger writes leveled, timestamped lines to an underlying writer.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	debug  bool
	prefix string
}

// New returns a Logger that writes to out (info/debug) and errOut
// (error). debug enables Debug-level output; when false, Debug calls
// are dropped before formatting.
func New(out, errOut io.Writer, prefix string, debug bool) *Logger {
	return &Logger{out: out, errOut: errOut, prefix: prefix, debug: debug}
}

// Default returns a Logger writing to stdout/stderr under prefix.
func Default(prefix string, debug bool) *Logger {
	return New(os.Stdout, os.Stderr, prefix, debug)
}

// Debug writes a debug-level line when the logger's debug flag is set.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.write(l.out, "DEBUG", format, args...)
}

// Info writes an info-level line.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(l.out, "INFO", format, args...)
}

// Error writes an error-level line to the error writer.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(l.errOut, "ERROR", format, args...)
}

func (l *Logger) write(w io.Writer, level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		fmt.Fprintf(w, "[%s] %s %s: %s\n", ts, l.prefix, level, msg)
	} else {
		fmt.Fprintf(w, "[%s] %s: %s\n", ts, level, msg)
	}
}

// Package logging wraps the standard library's log.Logger with
// per-connection prefixes. The teacher corpus has no structured logging
// library anywhere (cmd/got/main.go writes errors straight to os.Stderr via
// fmt.Fprintln); svnbridged follows the same plain-stderr texture rather
// than introducing a third-party logger the corpus never reaches for.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is a thin wrapper around *log.Logger adding a stable prefix and a
// WithPrefix constructor for deriving a child logger scoped to one
// connection or repository, matching cmd/got/main.go's "print context, then
// the error" style.
type Logger struct {
	*log.Logger
}

// New builds a root logger writing to w (os.Stderr in production) with
// standard date/time flags.
func New(w io.Writer) *Logger {
	return &Logger{Logger: log.New(w, "", log.LstdFlags)}
}

// Default builds a root logger writing to os.Stderr.
func Default() *Logger {
	return New(os.Stderr)
}

// WithPrefix returns a child logger tagging every line with prefix, e.g. a
// connection's remote address or a repository name.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{Logger: log.New(l.Writer(), fmt.Sprintf("[%s] ", prefix), log.LstdFlags)}
}

// Errorf logs a formatted error line. Named distinctly from Printf so call
// sites read as intentional error reporting, matching the teacher's
// fmt.Errorf-wrapped-then-printed idiom at the CLI boundary.
func (l *Logger) Errorf(format string, args ...any) {
	l.Printf("error: "+format, args...)
}

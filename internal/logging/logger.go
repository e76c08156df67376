// Package logging builds the daemon's component loggers and their file output.
package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

// DefaultMaxBytes rolls log files over at 300 MiB.
const DefaultMaxBytes = 300 << 20

// Flags used by every component logger.
const Flags = log.LstdFlags | log.Lmicroseconds

// New returns a logger that prefixes lines with "[component] ".
func New(w io.Writer, component string) *log.Logger {
	if w == nil {
		w = os.Stdout
	}
	return log.New(w, "["+component+"] ", Flags)
}

// Output mirrors stdout into a rotating file at path. An empty path logs to
// stdout only. The returned closer must be closed on shutdown.
func Output(path string, maxBytes int64) (io.Writer, io.Closer, error) {
	if strings.TrimSpace(path) == "" {
		return os.Stdout, nopWriteCloser{w: os.Stdout}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	rot, err := NewRotatingWriter(path, maxBytes)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(os.Stdout, rot), rot, nil
}

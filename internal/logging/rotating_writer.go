package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to dated log segments. logs/chatd.log is written as
// logs/chatd-2026-03-14.log, then logs/chatd-2026-03-14-2.log once MaxBytes
// is reached, and a new segment starts on each UTC day. BasePath itself is kept
// as a symlink to the active segment where the filesystem allows it.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	mu      sync.Mutex
	seg     segment
	file    *os.File
	written int64
	now     func() time.Time
}

type segment struct {
	day   string
	index int
}

// NewRotatingWriter opens the current segment for basePath. "-" discards output.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	rw := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, now: time.Now}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if err := rw.ensure(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensure(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Close closes the active segment.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ensure switches segments when the day changed or next bytes would overflow MaxBytes.
func (w *RotatingWriter) ensure(next int64) error {
	if w.now == nil {
		w.now = time.Now
	}
	day := w.now().UTC().Format(time.DateOnly)
	switch {
	case w.file == nil || w.seg.day != day:
		return w.open(segment{day: day, index: 1})
	case w.MaxBytes > 0 && w.written > 0 && w.written+next > w.MaxBytes:
		return w.open(segment{day: day, index: w.seg.index + 1})
	}
	return nil
}

func (w *RotatingWriter) open(seg segment) error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	path := w.segmentPath(seg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logging: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.seg, w.file, w.written = seg, f, size
	w.link(path)
	return nil
}

func (w *RotatingWriter) segmentPath(seg segment) string {
	ext := filepath.Ext(w.BasePath)
	stem := strings.TrimSuffix(w.BasePath, ext)
	if ext == "" {
		ext = ".log"
	}
	if seg.index > 1 {
		return fmt.Sprintf("%s-%s-%d%s", stem, seg.day, seg.index, ext)
	}
	return fmt.Sprintf("%s-%s%s", stem, seg.day, ext)
}

// link points BasePath at target. Failures are ignored; the segment files are
// the source of truth.
func (w *RotatingWriter) link(target string) {
	if dest, err := os.Readlink(w.BasePath); err == nil && dest == target {
		return
	}
	_ = os.Remove(w.BasePath)
	_ = os.Symlink(target, w.BasePath)
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }

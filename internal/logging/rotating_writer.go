package logging

import (
	"io"
	"os"
	"sync"
)

// RotatingFileWriter is a file writer with single-backup size-based
// rotation: when the file would exceed maxSize it is renamed to
// <path>.old, replacing any previous backup, and a fresh file is
// started.
type RotatingFileWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	maxSize int64
	size    int64
}

// NewRotatingFileWriter opens (or creates) the log file at path.
func NewRotatingFileWriter(path string, maxSize int64) (*RotatingFileWriter, error) {
	w := &RotatingFileWriter{path: path, maxSize: maxSize}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *RotatingFileWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *RotatingFileWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
	}
	// The rename may fail if the file never existed; a fresh file is
	// opened either way.
	_ = os.Rename(w.path, w.path+".old")
	return w.open()
}

var _ io.WriteCloser = (*RotatingFileWriter)(nil)

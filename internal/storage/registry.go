package storage

import (
	"log/slog"
	"sync"
)

// WriterRegistry hands out one JSONLWriter per subdirectory.
type WriterRegistry struct {
	baseDir    string
	name       string
	bufferSize int
	maxSizeMB  int

	mu      sync.Mutex
	writers map[string]*JSONLWriter
}

// NewWriterRegistry creates a registry whose writers all use the file base
// name name.
func NewWriterRegistry(baseDir, name string, bufferSize, maxSizeMB int) *WriterRegistry {
	return &WriterRegistry{
		baseDir:    baseDir,
		name:       name,
		bufferSize: bufferSize,
		maxSizeMB:  maxSizeMB,
		writers:    make(map[string]*JSONLWriter),
	}
}

// Writer returns the writer for subDir, creating it on first use.
func (r *WriterRegistry) Writer(subDir string) *JSONLWriter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[subDir]; ok {
		return w
	}
	w := NewJSONLWriter(r.baseDir, subDir, r.name, r.bufferSize, r.maxSizeMB)
	r.writers[subDir] = w
	slog.Debug("created jsonl writer", "subdir", subDir)
	return w
}

// Close closes every writer and forgets them.
func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lastErr error
	for subDir, w := range r.writers {
		if err := w.Close(); err != nil {
			slog.Error("failed to close jsonl writer", "subdir", subDir, "error", err)
			lastErr = err
		}
	}
	r.writers = make(map[string]*JSONLWriter)
	return lastErr
}

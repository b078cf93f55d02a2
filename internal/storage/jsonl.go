// Package storage persists broker diagnostics as JSON lines.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = fmt.Errorf("jsonl writer is closed")

// JSONLWriter appends JSON records asynchronously to
// <baseDir>/<yyyy-mm-dd>/<subDir>/<name>.jsonl, rotating by size via
// lumberjack and by UTC date.
type JSONLWriter struct {
	baseDir   string
	subDir    string
	name      string
	maxSizeMB int
	now       func() time.Time

	writeCh chan any
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	file        *lumberjack.Logger
}

// NewJSONLWriter starts a writer. name is the file base name.
func NewJSONLWriter(baseDir, subDir, name string, bufferSize, maxSizeMB int) *JSONLWriter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		subDir:    subDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record. It never blocks: a full buffer drops the record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("jsonl write buffer full, dropping record", "subdir", w.subDir)
		return fmt.Errorf("jsonl buffer full")
	}
}

// Close flushes queued records and closes the file.
func (w *JSONLWriter) Close() error {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			for {
				select {
				case record := <-w.writeCh:
					w.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal jsonl record", "error", err, "subdir", w.subDir)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if date := w.now().UTC().Format("2006-01-02"); date != w.currentDate || w.file == nil {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("failed to open jsonl file", "error", err, "subdir", w.subDir)
			return
		}
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write jsonl record", "error", err, "subdir", w.subDir)
	}
}

func (w *JSONLWriter) rotateForDate(date string) error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir := filepath.Join(w.baseDir, date, w.subDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, w.name+".jsonl")
	w.file = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     30,
	}
	w.currentDate = date
	slog.Debug("opened jsonl file", "file", filename)
	return nil
}

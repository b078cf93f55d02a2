package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"
)

// MaxLineSize bounds one newline-delimited message.
const MaxLineSize = 64 << 20

// LineReader reads newline-delimited JSON. Lines that are blank or are not
// valid JSON are skipped so one bad line never ends the stream.
type LineReader struct {
	sc      *bufio.Scanner
	dropped int
}

func NewLineReader(r io.Reader) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), MaxLineSize)
	return &LineReader{sc: sc}
}

// Next returns the next well-formed line, or the underlying read error
// (io.EOF at end of stream).
func (lr *LineReader) Next() (json.RawMessage, error) {
	for lr.sc.Scan() {
		line := lr.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			lr.dropped++
			slog.Debug("wire: dropping malformed line", "bytes", len(line))
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := lr.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Dropped reports how many malformed lines were skipped so far.
func (lr *LineReader) Dropped() int { return lr.dropped }

// LineWriter writes newline-delimited JSON and is safe for concurrent use.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// Write marshals v and writes it followed by a newline.
func (lw *LineWriter) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return lw.WriteRaw(data)
}

// WriteRaw writes an already-encoded JSON value followed by a newline.
func (lw *LineWriter) WriteRaw(data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(line)
	return err
}

// Package wire implements the two framings used between processes: the
// length-prefixed native messaging framing spoken on the extension side and
// the newline-delimited JSON framing spoken on the broker socket.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single native message.
const MaxFrameSize = 64 << 20

const headerSize = 4

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: native message exceeds size limit")

// FrameDecoder reassembles native messages from arbitrary byte chunks.
// Bytes are buffered until a complete frame is available, so a message
// split across several reads comes out whole and in order.
type FrameDecoder struct {
	buf []byte
	eos bool
}

// Feed appends a chunk and returns every frame it completed. Once a
// zero-length frame has been seen, Feed returns io.EOF together with the
// frames that preceded it and ignores any further input.
func (d *FrameDecoder) Feed(chunk []byte) ([]json.RawMessage, error) {
	if d.eos {
		return nil, io.EOF
	}
	d.buf = append(d.buf, chunk...)

	var out []json.RawMessage
	for len(d.buf) >= headerSize {
		n := binary.LittleEndian.Uint32(d.buf[:headerSize])
		if n == 0 {
			d.eos = true
			d.buf = nil
			return out, io.EOF
		}
		if n > MaxFrameSize {
			return out, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
		}
		end := headerSize + int(n)
		if len(d.buf) < end {
			break
		}
		msg := make([]byte, n)
		copy(msg, d.buf[headerSize:end])
		out = append(out, msg)
		d.buf = d.buf[end:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out, nil
}

// Buffered reports how many bytes are waiting for the rest of their frame.
func (d *FrameDecoder) Buffered() int { return len(d.buf) }

// FrameReader pulls native messages off a byte stream.
type FrameReader struct {
	r       io.Reader
	dec     FrameDecoder
	queue   []json.RawMessage
	err     error
	scratch []byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, scratch: make([]byte, 32<<10)}
}

// Next returns the next message. It returns io.EOF on a zero-length frame or
// when the stream ends on a frame boundary, and io.ErrUnexpectedEOF when the
// stream ends inside a frame.
func (fr *FrameReader) Next() (json.RawMessage, error) {
	for len(fr.queue) == 0 {
		if fr.err != nil {
			return nil, fr.err
		}
		n, err := fr.r.Read(fr.scratch)
		if n > 0 {
			msgs, decErr := fr.dec.Feed(fr.scratch[:n])
			fr.queue = append(fr.queue, msgs...)
			if decErr != nil {
				fr.err = decErr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && fr.dec.Buffered() > 0 {
				err = io.ErrUnexpectedEOF
			}
			fr.err = err
		}
	}
	msg := fr.queue[0]
	fr.queue = fr.queue[1:]
	return msg, nil
}

// EncodeFrame returns msg with its length prefix.
func EncodeFrame(msg []byte) ([]byte, error) {
	if len(msg) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg))
	}
	out := make([]byte, headerSize+len(msg))
	binary.LittleEndian.PutUint32(out, uint32(len(msg)))
	copy(out[headerSize:], msg)
	return out, nil
}

// WriteFrame writes msg as one native message. Header and body go out in a
// single Write so concurrent writers guarded by one mutex never interleave.
func WriteFrame(w io.Writer, msg []byte) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// WriteEnd writes the zero-length end-of-stream frame.
func WriteEnd(w io.Writer) error {
	_, err := w.Write(make([]byte, headerSize))
	return err
}

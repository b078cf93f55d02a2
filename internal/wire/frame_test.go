package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"testing"
	"testing/iotest"
)

func TestFrameDecoderReassemblesSplitChunks(t *testing.T) {
	msgs := []string{
		`{"type":"tool_request","id":1,"tool":"click","args":{"selector":"label:Email","tabId":5}}`,
		`{"type":"tool_request","id":2,"tool":"query","args":{"mode":"page_text","pattern":"\\d+"}}`,
		`{"text":"héllo wörld ✓"}`,
	}
	var stream []byte
	for _, m := range msgs {
		frame, err := EncodeFrame([]byte(m))
		if err != nil {
			t.Fatalf("EncodeFrame() error = %v", err)
		}
		stream = append(stream, frame...)
	}

	for _, chunk := range []int{1, 2, 3, 5, 7, 64, len(stream)} {
		var dec FrameDecoder
		var got []string
		for i := 0; i < len(stream); i += chunk {
			end := min(i+chunk, len(stream))
			out, err := dec.Feed(stream[i:end])
			if err != nil {
				t.Fatalf("chunk=%d Feed() error = %v", chunk, err)
			}
			for _, m := range out {
				got = append(got, string(m))
			}
		}
		if !reflect.DeepEqual(got, msgs) {
			t.Fatalf("chunk=%d decoded = %q; want %q", chunk, got, msgs)
		}
		if dec.Buffered() != 0 {
			t.Fatalf("chunk=%d Buffered() = %d; want 0", chunk, dec.Buffered())
		}
	}
}

func TestFrameRoundTripPreservesJSON(t *testing.T) {
	orig := map[string]any{
		"type": "tool_response",
		"id":   float64(42),
		"result": map[string]any{
			"selectorUsed": "text:Sign in",
			"items":        []any{"a", "b"},
		},
	}
	body, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	fr := NewFrameReader(iotest.OneByteReader(&buf))
	msg, err := fr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(got, orig) {
		t.Fatalf("round trip = %v; want %v", got, orig)
	}
	if _, err := fr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() at end error = %v; want io.EOF", err)
	}
}

func TestFrameZeroLengthEndsStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if err := WriteEnd(&buf); err != nil {
		t.Fatalf("WriteEnd() error = %v", err)
	}
	if err := WriteFrame(&buf, []byte(`{"ignored":true}`)); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	fr := NewFrameReader(&buf)
	msg, err := fr.Next()
	if err != nil || string(msg) != `{"a":1}` {
		t.Fatalf("Next() = %q, %v; want {\"a\":1}, nil", msg, err)
	}
	if _, err := fr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() after end frame error = %v; want io.EOF", err)
	}
}

func TestFrameTruncatedStream(t *testing.T) {
	frame, err := EncodeFrame([]byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	fr := NewFrameReader(bytes.NewReader(frame[:len(frame)-2]))
	if _, err := fr.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Next() error = %v; want io.ErrUnexpectedEOF", err)
	}
}

func TestFrameDecoderRejectsOversizedFrame(t *testing.T) {
	var dec FrameDecoder
	_, err := dec.Feed([]byte{0xff, 0xff, 0xff, 0x7f})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Feed() error = %v; want ErrFrameTooLarge", err)
	}
}

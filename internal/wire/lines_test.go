package wire

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestLineReaderSkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"hello","role":"plugin","sessionId":"a"}`,
		`{not json`,
		``,
		`{"type":"request","id":1,"op":"status"}`,
		`"truncated`,
		`{"type":"request","id":2,"op":"list_claims"}`,
	}, "\n")

	lr := NewLineReader(strings.NewReader(input))
	var got []string
	for {
		msg, err := lr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, string(msg))
	}
	if len(got) != 3 {
		t.Fatalf("Next() returned %d lines; want 3: %q", len(got), got)
	}
	if !strings.Contains(got[2], `"id":2`) {
		t.Fatalf("last line = %q; want the request with id 2", got[2])
	}
	if lr.Dropped() != 2 {
		t.Fatalf("Dropped() = %d; want 2", lr.Dropped())
	}
}

func TestLineWriterConcurrentWritesStayWhole(t *testing.T) {
	var sb strings.Builder
	var mu sync.Mutex
	lw := NewLineWriter(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return sb.Write(p)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := lw.Write(map[string]any{"id": i, "text": "line\nwith newline"}); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	lr := NewLineReader(strings.NewReader(sb.String()))
	count := 0
	for {
		_, err := lr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		count++
	}
	if count != 50 || lr.Dropped() != 0 {
		t.Fatalf("read %d lines (%d dropped); want 50 (0 dropped)", count, lr.Dropped())
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

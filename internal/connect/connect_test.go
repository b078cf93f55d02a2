package connect

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
)

// socketPath keeps the path short enough for sun_path.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "tl")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "b.sock")
}

func listen(t *testing.T, path string) net.Listener {
	t.Helper()
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return ln
}

func TestDialRunningBroker(t *testing.T) {
	path := socketPath(t)
	listen(t, path)

	var spawned atomic.Bool
	conn, err := Dial(context.Background(), Options{
		SocketPath: path,
		AutoStart:  true,
		Spawn:      func() error { spawned.Store(true); return nil },
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	_ = conn.Close()
	if spawned.Load() {
		t.Fatalf("Dial() spawned a broker although one was running")
	}
}

func TestDialWithoutAutoStart(t *testing.T) {
	_, err := Dial(context.Background(), Options{SocketPath: socketPath(t)})
	if !types.IsCode(err, types.CodeConnectTimeout) {
		t.Fatalf("Dial() error = %v; want CONNECT_TIMEOUT", err)
	}
}

func TestDialStartsBroker(t *testing.T) {
	path := socketPath(t)
	started := make(chan net.Listener, 1)
	conn, err := Dial(context.Background(), Options{
		SocketPath: path,
		AutoStart:  true,
		Interval:   5 * time.Millisecond,
		Spawn: func() error {
			go func() {
				time.Sleep(20 * time.Millisecond)
				ln, err := net.Listen("unix", path)
				if err != nil {
					close(started)
					return
				}
				started <- ln
			}()
			return nil
		},
	})
	if ln, ok := <-started; ok {
		defer ln.Close()
	}
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	_ = conn.Close()
}

func TestDialGivesUp(t *testing.T) {
	start := time.Now()
	_, err := Dial(context.Background(), Options{
		SocketPath: socketPath(t),
		AutoStart:  true,
		Attempts:   3,
		Interval:   time.Millisecond,
		Spawn:      func() error { return nil },
	})
	if !types.IsCode(err, types.CodeConnectTimeout) {
		t.Fatalf("Dial() error = %v; want CONNECT_TIMEOUT", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("Dial() took %v; want a bounded retry", time.Since(start))
	}
}

func TestDialSpawnFailure(t *testing.T) {
	boom := errors.New("no such binary")
	_, err := Dial(context.Background(), Options{
		SocketPath: socketPath(t),
		AutoStart:  true,
		Spawn:      func() error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Dial() error = %v; want wrapped spawn error", err)
	}
}

func TestDialEmptyPath(t *testing.T) {
	if _, err := Dial(context.Background(), Options{}); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("Dial() error = %v; want VALIDATION", err)
	}
}

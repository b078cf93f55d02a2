package netutil

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrSocketInUse is returned by ListenUnix when another process is already
// serving on the socket path.
var ErrSocketInUse = errors.New("socket already in use")

// DefaultSocketPath returns the per-user broker socket path.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tablease.sock")
	}
	return filepath.Join(os.TempDir(), "tablease-"+strconv.Itoa(os.Getuid())+".sock")
}

// ListenUnix listens on a unix socket path. A leftover socket file that
// nobody answers on is removed first; a live one yields ErrSocketInUse.
func ListenUnix(path string) (net.Listener, error) {
	if IsSocketLive(path) {
		return nil, fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, err
	}
	return ln, nil
}

// IsSocketLive reports whether something accepts connections on path.
func IsSocketLive(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

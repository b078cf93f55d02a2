package browser

import (
	"context"
	"net"
	"testing"
)

func TestLaunchSkipsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: port, ProfileDir: t.TempDir()})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v; want nil when CDP port is taken", err)
	}
	if l.Running() {
		t.Fatalf("Running() = true; want false when no browser was started")
	}
	l.Stop()
}

func TestNewLauncherDefaults(t *testing.T) {
	l := NewLauncher(Config{CDPPort: 9222})
	if l.cfg.WindowW != 1366 || l.cfg.WindowH != 768 || l.cfg.CDPAddress != "127.0.0.1" {
		t.Fatalf("defaults = %+v; want 1366x768 on 127.0.0.1", l.cfg)
	}
	if n := len(l.options()); n < 10 {
		t.Fatalf("options() = %d entries; want the full flag set", n)
	}
}

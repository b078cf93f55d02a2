// Package browser starts a local Chromium with remote debugging enabled when
// the host is asked to launch one.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
)

const cdpReadyTimeout = 15 * time.Second

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	ProfileDir string
	StartURL   string
	Headless   bool
	WindowW    int
	WindowH    int
	ExecPath   string
}

// Launcher manages the lifecycle of a browser process.
type Launcher struct {
	cfg Config

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewLauncher creates a new browser launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowW <= 0 || cfg.WindowH <= 0 {
		cfg.WindowW, cfg.WindowH = 1366, 768
	}
	if cfg.CDPAddress == "" {
		cfg.CDPAddress = "127.0.0.1"
	}
	return &Launcher{cfg: cfg}
}

// detectBrowser finds an available Chrome/Chromium binary. An empty result
// lets chromedp search its own list.
func detectBrowser() string {
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath
		}
	}
	return ""
}

// isPortInUse checks whether a TCP port is already listening.
func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (l *Launcher) options() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.UserDataDir(l.cfg.ProfileDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("remote-debugging-port", strconv.Itoa(l.cfg.CDPPort)),
		chromedp.Flag("remote-debugging-address", l.cfg.CDPAddress),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
		chromedp.WindowSize(l.cfg.WindowW, l.cfg.WindowH),
	}
	path := l.cfg.ExecPath
	if path == "" {
		path = detectBrowser()
	}
	if path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	if l.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// Launch starts the browser unless the CDP port is already in use, then
// waits for the DevTools HTTP endpoint.
func (l *Launcher) Launch(ctx context.Context) error {
	if isPortInUse(l.cfg.CDPAddress, l.cfg.CDPPort) {
		slog.Info("browser already running, skipping launch",
			"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
		return nil
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	for _, lock := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
		if err := os.Remove(l.cfg.ProfileDir + "/" + lock); err == nil {
			slog.Warn("removed stale profile lock", "file", lock)
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.options()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if l.cfg.StartURL != "" {
		err := chromedp.Run(browserCtx, chromedp.Navigate(l.cfg.StartURL))
		if err != nil {
			browserCancel()
			allocCancel()
			return fmt.Errorf("start browser: %w", err)
		}
	} else if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}
	l.allocCancel, l.browserCtx, l.browserCancel = allocCancel, browserCtx, browserCancel
	slog.Info("browser process started", "profile", l.cfg.ProfileDir, "headless", l.cfg.Headless)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
	return nil
}

// waitForCDP polls the CDP /json/version endpoint until it responds.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/json/version", net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort)))
	deadline := time.After(cdpReadyTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within %s at %s", cdpReadyTimeout, url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether this launcher started a browser.
func (l *Launcher) Running() bool {
	return l.browserCtx != nil && l.browserCtx.Err() == nil
}

// Stop closes the browser, letting chromedp kill it if it does not exit.
func (l *Launcher) Stop() {
	if l.browserCtx == nil {
		return
	}
	slog.Info("stopping browser")
	ctx, cancel := context.WithTimeout(l.browserCtx, 5*time.Second)
	if err := chromedp.Cancel(ctx); err != nil {
		slog.Warn("browser did not close gracefully", "error", err)
	}
	cancel()
	l.browserCancel()
	l.allocCancel()
	l.browserCtx = nil
}

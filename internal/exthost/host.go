package exthost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/tablease/internal/config"
	"github.com/dgnsrekt/tablease/internal/types"
	"github.com/dgnsrekt/tablease/internal/wire"
)

const DefaultRestartDelay = time.Second

// Caller runs a tool call. *Service implements it.
type Caller interface {
	Call(ctx context.Context, call types.ToolCall) (types.ToolResult, error)
}

// HostOptions configures a Host.
type HostOptions struct {
	RelayBin     string
	RestartDelay time.Duration
	Logger       *slog.Logger
}

// Host plays the browser side of the native messaging channel: it spawns
// the relay, answers tool_request frames and restarts the relay when it
// exits.
type Host struct {
	caller   Caller
	relayBin string
	delay    time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	claims []types.Claim
}

func NewHost(caller Caller, opts HostOptions) *Host {
	h := &Host{caller: caller, relayBin: opts.RelayBin, delay: opts.RestartDelay, logger: opts.Logger}
	if h.delay <= 0 {
		h.delay = DefaultRestartDelay
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Claims returns the claim list from the latest host_ready.
func (h *Host) Claims() []types.Claim {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Claim(nil), h.claims...)
}

// Run keeps one relay process alive until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	if h.relayBin == "" {
		return fmt.Errorf("exthost: no relay binary configured")
	}
	for {
		err := h.runRelay(ctx)
		if ctx.Err() != nil {
			return nil
		}
		h.logger.Warn("relay exited, restarting", "error", err, "delay", h.delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.delay):
		}
	}
}

func (h *Host) runRelay(ctx context.Context) error {
	cmd := exec.Command(h.relayBin)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("relay stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("relay stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start relay %s: %w", h.relayBin, err)
	}
	h.logger.Info("relay started", "bin", h.relayBin, "pid", cmd.Process.Pid)

	serveErr := h.Serve(ctx, stdout, stdin)

	// The end-of-stream frame makes the relay exit cleanly.
	_ = wire.WriteEnd(stdin)
	_ = stdin.Close()
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if serveErr == nil {
			serveErr = err
		}
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
	return serveErr
}

// Serve answers tool requests read from r, writing responses to w, until r
// ends or ctx is done. Requests run concurrently and may finish out of order.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	})
	defer stop()

	var writeMu sync.Mutex
	write := func(resp types.ToolResponse) {
		data, err := json.Marshal(resp)
		if err != nil {
			h.logger.Error("encode tool response", "id", resp.ID, "error", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := wire.WriteFrame(w, data); err != nil {
			h.logger.Warn("write tool response failed", "id", resp.ID, "error", err)
		}
	}

	var g errgroup.Group
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	fr := wire.NewFrameReader(r)
	for {
		msg, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("exthost: read frame: %w", err)
		}
		switch kind := gjson.GetBytes(msg, "type").String(); kind {
		case types.MsgToolRequest:
			var req types.ToolRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				h.logger.Warn("dropping malformed tool request", "error", err)
				continue
			}
			g.Go(func() error {
				write(h.handle(ctx, req))
				return nil
			})
		case types.MsgHostReady:
			var ready types.HostReady
			if err := json.Unmarshal(msg, &ready); err != nil {
				h.logger.Warn("dropping malformed host_ready", "error", err)
				continue
			}
			h.mu.Lock()
			h.claims = ready.Claims
			h.mu.Unlock()
			h.logger.Info("broker ready", "claims", len(ready.Claims))
		default:
			h.logger.Debug("ignoring frame", "type", kind)
		}
	}
}

func (h *Host) handle(ctx context.Context, req types.ToolRequest) types.ToolResponse {
	resp := types.ToolResponse{Type: types.MsgToolResponse, ID: req.ID}
	res, err := h.caller.Call(ctx, types.ToolCall{Tool: req.Tool, Args: req.Args})
	if err != nil {
		resp.Error = err.Error()
		resp.Code = types.ErrorCode(err)
		return resp
	}
	resp.Result = res.Result
	resp.TabID = res.TabID
	if len(resp.Result) == 0 {
		resp.Result = json.RawMessage("null")
	}
	return resp
}

// OpenStartupTabs opens each configured tab through c. Failures are logged
// and skipped.
func OpenStartupTabs(ctx context.Context, c Caller, tabs []config.StartupTab, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	opened := 0
	for _, t := range tabs {
		res, err := c.Call(ctx, types.ToolCall{
			Tool: types.ToolOpenTab,
			Args: types.ToolArgs{"url": t.URL, "active": t.Active},
		})
		if err != nil {
			logger.Warn("startup tab failed", "url", t.URL, "error", err)
			continue
		}
		opened++
		if res.TabID != nil {
			logger.Info("startup tab opened", "url", t.URL, "tab_id", *res.TabID)
		}
	}
	return opened
}

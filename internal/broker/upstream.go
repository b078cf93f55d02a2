package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
	"github.com/dgnsrekt/tablease/internal/wire"
)

// Upstream executes tool calls against the browser.
type Upstream interface {
	Call(ctx context.Context, call types.ToolCall) (types.ToolResult, error)
	Connected() bool
}

var (
	errUpstreamGone     = types.NewError(types.CodeUpstreamDisconnected, "upstream disconnected", nil)
	errUpstreamReplaced = types.NewError(types.CodeUpstreamDisconnected, "upstream replaced by a new native host", nil)
)

type callResult struct {
	res types.ToolResult
	err error
}

type pendingCall struct {
	gen       uint64
	sessionID string
	tool      types.Tool
	createdAt time.Time
	done      chan callResult
}

type linkConn struct {
	gen    uint64
	w      *wire.LineWriter
	closer io.Closer
}

// Link is the upstream served by a native-host connection (the relay). At
// most one connection is current; a new registration replaces the old one.
// Each pending call is completed exactly once, by whichever of response,
// timeout, cancellation or disconnect removes it from the table first.
type Link struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *linkConn
	gen     uint64
	nextID  int64
	pending map[int64]*pendingCall
}

// NewLink creates a link with no connection.
func NewLink(logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{logger: logger, pending: make(map[int64]*pendingCall)}
}

// Connected reports whether a native host is registered.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Attach installs a new native-host connection and returns its generation.
// Calls pending on a previous connection fail with an "upstream replaced"
// error and the previous connection is closed before host_ready is sent on
// the new one. host_ready is written before the connection is published, so
// no tool_request can precede it.
func (l *Link) Attach(w *wire.LineWriter, closer io.Closer, claims []types.Claim) (uint64, bool) {
	if claims == nil {
		claims = []types.Claim{}
	}

	l.mu.Lock()
	old := l.conn
	var stale []*pendingCall
	if old != nil {
		stale = l.takeGenLocked(old.gen)
		_ = old.closer.Close()
	}
	l.gen++
	gen := l.gen
	err := w.Write(types.HostReady{Type: types.MsgHostReady, Claims: claims})
	l.conn = &linkConn{gen: gen, w: w, closer: closer}
	l.mu.Unlock()

	for _, p := range stale {
		p.done <- callResult{err: errUpstreamReplaced}
	}
	if old != nil {
		l.logger.Warn("native host replaced", "old_generation", old.gen, "failed_pending", len(stale))
	}
	if err != nil {
		l.logger.Warn("send host_ready failed", "error", err)
	}
	l.logger.Info("native host attached", "generation", gen)
	return gen, old != nil
}

// Detach drops the connection of generation gen, if it is still current,
// and fails every call pending on it.
func (l *Link) Detach(gen uint64) bool {
	l.mu.Lock()
	if l.conn == nil || l.conn.gen != gen {
		l.mu.Unlock()
		return false
	}
	l.conn = nil
	failed := l.takeGenLocked(gen)
	l.mu.Unlock()

	for _, p := range failed {
		p.done <- callResult{err: errUpstreamGone}
	}
	l.logger.Warn("native host disconnected", "generation", gen, "failed_pending", len(failed))
	return true
}

func (l *Link) takeGenLocked(gen uint64) []*pendingCall {
	var out []*pendingCall
	for id, p := range l.pending {
		if p.gen == gen {
			delete(l.pending, id)
			out = append(out, p)
		}
	}
	return out
}

// Deliver hands a tool_response from connection gen to its waiting call.
// Responses for unknown ids are dropped.
func (l *Link) Deliver(gen uint64, raw json.RawMessage) {
	var resp types.ToolResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		l.logger.Warn("undecodable tool response", "error", err)
		return
	}
	if resp.Type != types.MsgToolResponse {
		l.logger.Debug("ignoring extension message", "type", resp.Type)
		return
	}

	l.mu.Lock()
	p := l.pending[resp.ID]
	if p == nil || p.gen != gen {
		l.mu.Unlock()
		l.logger.Debug("dropping orphan tool response", "id", resp.ID, "generation", gen)
		return
	}
	delete(l.pending, resp.ID)
	l.mu.Unlock()

	if err := resp.Err(); err != nil {
		p.done <- callResult{err: err}
		return
	}
	p.done <- callResult{res: types.ToolResult{Result: resp.Result, TabID: resp.TabID}}
}

// Pending returns the number of calls waiting for a response.
func (l *Link) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Call sends a tool_request and waits for its response, ctx cancellation or
// a disconnect.
func (l *Link) Call(ctx context.Context, call types.ToolCall) (types.ToolResult, error) {
	l.mu.Lock()
	if l.conn == nil {
		l.mu.Unlock()
		return types.ToolResult{}, types.NewError(types.CodeUpstreamUnavailable, "browser host is not connected", nil)
	}
	l.nextID++
	id := l.nextID
	p := &pendingCall{
		gen:       l.conn.gen,
		sessionID: call.SessionID,
		tool:      call.Tool,
		createdAt: time.Now(),
		done:      make(chan callResult, 1),
	}
	l.pending[id] = p
	w := l.conn.w
	l.mu.Unlock()

	args := call.Args
	if args == nil {
		args = types.ToolArgs{}
	}
	msg := types.ToExtension{
		Type:    types.MsgToExtension,
		Message: types.ToolRequest{Type: types.MsgToolRequest, ID: id, Tool: call.Tool, Args: args},
	}
	if err := w.Write(msg); err != nil {
		if l.remove(id, p) {
			return types.ToolResult{}, types.NewError(types.CodeUpstreamDisconnected, "send tool request", err)
		}
		r := <-p.done
		return r.res, r.err
	}

	select {
	case r := <-p.done:
		return r.res, r.err
	case <-ctx.Done():
		if l.remove(id, p) {
			return types.ToolResult{}, ctxError(ctx, call.Tool)
		}
		r := <-p.done
		return r.res, r.err
	}
}

func (l *Link) remove(id int64, p *pendingCall) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending[id] != p {
		return false
	}
	delete(l.pending, id)
	return true
}

func ctxError(ctx context.Context, tool types.Tool) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.CodeRequestTimeout, "tool "+tool.String()+" timed out", ctx.Err())
	}
	return ctx.Err()
}

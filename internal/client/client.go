// Package client is the session side of the broker socket protocol.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/tablease/internal/connect"
	"github.com/dgnsrekt/tablease/internal/types"
	"github.com/dgnsrekt/tablease/internal/wire"
)

// Client is one session connected to the broker. It is safe for concurrent
// use; responses are matched to requests by id, not by arrival order.
type Client struct {
	sessionID string
	logger    *slog.Logger

	conn net.Conn
	w    *wire.LineWriter
	seq  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan types.Response
	closed    bool

	done chan struct{}
}

// Dial connects to the broker (starting it if allowed) and announces
// sessionID.
func Dial(ctx context.Context, opts connect.Options, sessionID string) (*Client, error) {
	if sessionID == "" {
		return nil, types.NewError(types.CodeValidation, "session id is required", nil)
	}
	conn, err := connect.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return New(conn, sessionID, opts.Logger)
}

// New runs the session protocol over an established connection.
func New(conn net.Conn, sessionID string, logger *slog.Logger) (*Client, error) {
	if sessionID == "" {
		_ = conn.Close()
		return nil, types.NewError(types.CodeValidation, "session id is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		sessionID: sessionID,
		logger:    logger,
		conn:      conn,
		w:         wire.NewLineWriter(conn),
		pending:   make(map[int64]chan types.Response),
		done:      make(chan struct{}),
	}
	hello := types.Hello{Type: types.MsgHello, Role: types.RolePlugin, SessionID: sessionID}
	if err := c.w.Write(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) SessionID() string { return c.sessionID }

// Done is closed once the broker connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close drops the connection; the broker releases this session's claims.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	lr := wire.NewLineReader(c.conn)
	for {
		raw, err := lr.Next()
		if err != nil {
			c.logger.Debug("broker connection closed", "session_id", c.sessionID, "error", err)
			c.closeAllPending()
			return
		}
		var resp types.Response
		if err := json.Unmarshal(raw, &resp); err != nil || resp.Type != types.MsgResponse {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("dropping response with unknown id", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

func (c *Client) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// do sends req and waits for its response, returning the data payload.
func (c *Client) do(ctx context.Context, req types.Request) (json.RawMessage, error) {
	req.Type = types.MsgRequest
	req.ID = c.seq.Add(1)

	ch := make(chan types.Response, 1)
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, errBrokerGone
	}
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	if err := c.w.Write(req); err != nil {
		c.deletePending(req.ID)
		return nil, types.NewError(types.CodeUpstreamDisconnected, "send to broker", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errBrokerGone
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.deletePending(req.ID)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, types.NewError(types.CodeRequestTimeout, fmt.Sprintf("%s request timed out", req.Op), ctx.Err())
		}
		return nil, ctx.Err()
	}
}

var errBrokerGone = types.NewError(types.CodeUpstreamDisconnected, "broker connection closed", nil)

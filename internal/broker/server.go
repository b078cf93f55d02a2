package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/tablease/internal/types"
	"github.com/dgnsrekt/tablease/internal/wire"
)

// Serve accepts connections on ln until ctx is done. Each connection
// introduces itself with a hello line naming its role.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.logger.Warn("accept failed", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs one connection until it closes or ctx is done.
func (b *Broker) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	lr := wire.NewLineReader(conn)
	first, err := lr.Next()
	if err != nil {
		b.logger.Debug("connection closed before hello", "error", err)
		return
	}
	var hello types.Hello
	if err := json.Unmarshal(first, &hello); err != nil || hello.Type != types.MsgHello {
		b.logger.Warn("first message was not hello", "raw", string(first))
		return
	}

	w := wire.NewLineWriter(conn)
	switch hello.Role {
	case types.RoleNativeHost:
		b.serveNativeHost(lr, w, conn)
	case types.RolePlugin:
		if hello.SessionID == "" {
			b.logger.Warn("plugin hello without session id")
			return
		}
		b.servePlugin(ctx, lr, w, hello.SessionID)
	default:
		b.logger.Warn("unknown role in hello", "role", hello.Role)
	}
}

func (b *Broker) serveNativeHost(lr *wire.LineReader, w *wire.LineWriter, conn net.Conn) {
	if b.link == nil {
		b.logger.Warn("rejecting native host: broker runs the " + b.backend + " backend")
		return
	}
	gen, replaced := b.link.Attach(w, conn, b.ListClaims())
	now := b.now()
	if replaced {
		b.hub.Publish(Event{Feed: FeedUpstream, Kind: EventReplaced, At: now})
	}
	b.hub.Publish(Event{Feed: FeedUpstream, Kind: EventConnected, At: now})

	for {
		raw, err := lr.Next()
		if err != nil {
			break
		}
		if kind := gjson.GetBytes(raw, "type").String(); kind != types.MsgFromExtension {
			b.logger.Debug("ignoring native host message", "type", kind)
			continue
		}
		msg := gjson.GetBytes(raw, "message")
		if !msg.IsObject() {
			continue
		}
		b.link.Deliver(gen, json.RawMessage(msg.Raw))
	}

	if b.link.Detach(gen) {
		b.hub.Publish(Event{Feed: FeedUpstream, Kind: EventDisconnected, At: b.now()})
	}
}

func (b *Broker) servePlugin(ctx context.Context, lr *wire.LineReader, w *wire.LineWriter, sessionID string) {
	b.SessionConnected(sessionID)
	b.logger.Info("session connected", "session_id", sessionID)

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		b.SessionDisconnected(sessionID)
	}()

	for {
		raw, err := lr.Next()
		if err != nil {
			return
		}
		var req types.Request
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != types.MsgRequest {
			b.logger.Debug("ignoring client message", "session_id", sessionID)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := b.handleRequest(connCtx, sessionID, req)
			if err := w.Write(resp); err != nil {
				b.logger.Debug("write response failed", "session_id", sessionID, "id", req.ID, "error", err)
			}
		}()
	}
}

func (b *Broker) handleRequest(ctx context.Context, sessionID string, req types.Request) types.Response {
	data, err := b.dispatch(ctx, sessionID, req)
	if err != nil {
		return types.ErrorResponse(req.ID, err)
	}
	resp, err := types.OKResponse(req.ID, data)
	if err != nil {
		return types.ErrorResponse(req.ID, types.NewError(types.CodeToolFailure, "encode response", err))
	}
	return resp
}

func (b *Broker) dispatch(ctx context.Context, sessionID string, req types.Request) (any, error) {
	switch req.Op {
	case types.OpStatus:
		return b.Status(sessionID), nil
	case types.OpListClaims:
		return b.ListClaims(), nil
	case types.OpClaimTab:
		if req.TabID == nil {
			return nil, types.NewError(types.CodeValidation, "claim_tab requires tabId", nil)
		}
		return b.ClaimTab(*req.TabID, sessionID, req.Force)
	case types.OpReleaseTab:
		if req.TabID == nil {
			return nil, types.NewError(types.CodeValidation, "release_tab requires tabId", nil)
		}
		released, err := b.ReleaseTab(*req.TabID, sessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tabId": *req.TabID, "released": released}, nil
	case types.OpTool:
		if req.Tool == "" {
			return nil, types.NewError(types.CodeValidation, "tool op requires a tool name", nil)
		}
		tool, err := types.ParseTool(req.Tool)
		if err != nil {
			return nil, err
		}
		args := req.Args
		if args == nil {
			args = types.ToolArgs{}
		}
		if req.TabID != nil {
			args = args.Clone()
			args.SetTabID(*req.TabID)
		}
		res, err := b.RouteTool(ctx, sessionID, tool, args)
		if err != nil {
			return nil, err
		}
		return toolData(res), nil
	default:
		return nil, types.Errorf(types.CodeValidation, "unknown op %q", req.Op)
	}
}

// toolData is the tool result as returned to clients.
func toolData(res types.ToolResult) any {
	result := res.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return struct {
		Result json.RawMessage `json:"result"`
		TabID  *int            `json:"tabId,omitempty"`
	}{Result: result, TabID: res.TabID}
}

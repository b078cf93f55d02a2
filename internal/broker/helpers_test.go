package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeUpstream answers tool calls with handle and records them.
type fakeUpstream struct {
	mu        sync.Mutex
	connected bool
	calls     []types.ToolCall
	handle    func(ctx context.Context, call types.ToolCall) (types.ToolResult, error)
}

func (f *fakeUpstream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeUpstream) Call(ctx context.Context, call types.ToolCall) (types.ToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, types.ToolCall{SessionID: call.SessionID, Tool: call.Tool, Args: call.Args.Clone()})
	handle := f.handle
	f.mu.Unlock()
	if handle == nil {
		return types.ToolResult{Result: json.RawMessage(`{"ok":true}`)}, nil
	}
	return handle(ctx, call)
}

func (f *fakeUpstream) toolCalls(tool types.Tool) []types.ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.ToolCall
	for _, c := range f.calls {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

// activeTabUpstream reports activeTab for get_active_tab, opens tab newTab
// for open_tab and succeeds everything else on the tab it was given.
func activeTabUpstream(activeTab, newTab int) *fakeUpstream {
	return &fakeUpstream{
		connected: true,
		handle: func(_ context.Context, call types.ToolCall) (types.ToolResult, error) {
			switch call.Tool {
			case types.ToolGetActiveTab:
				raw, _ := json.Marshal(types.TabInfo{TabID: activeTab, Active: true})
				return types.ToolResult{Result: raw}, nil
			case types.ToolOpenTab:
				raw, _ := json.Marshal(types.TabInfo{TabID: newTab})
				return types.ToolResult{Result: raw, TabID: tabPtr(newTab)}, nil
			}
			return types.ToolResult{Result: json.RawMessage(`"done"`)}, nil
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(t *testing.T, up Upstream, ttl time.Duration) (*Broker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	b := New(up, Options{
		TTL:            ttl,
		RequestTimeout: 2 * time.Second,
		Backend:        "test",
		Logger:         quietLogger(),
		Now:            clock.Now,
	})
	return b, clock
}

func defaultTab(b *Broker, sessionID string) *int {
	st := b.Status(sessionID)
	if st.Session == nil {
		return nil
	}
	return st.Session.DefaultTabID
}

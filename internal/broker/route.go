package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgnsrekt/tablease/internal/types"
)

const conflictGuidance = "open a new tab with open_tab or claim another tab with claim_tab"

// RouteTool resolves which tab a call targets, enforces ownership and
// forwards the call upstream, bounded by the request timeout.
func (b *Broker) RouteTool(ctx context.Context, sessionID string, tool types.Tool, args types.ToolArgs) (types.ToolResult, error) {
	if err := validateSession(sessionID); err != nil {
		return types.ToolResult{}, err
	}
	if _, err := types.ParseTool(tool.String()); err != nil {
		return types.ToolResult{}, err
	}
	args = args.Clone()
	if args.Has("tabId") {
		id, ok := args.TabID()
		if !ok {
			return types.ToolResult{}, types.Errorf(types.CodeValidation, "tabId must be an integer")
		}
		if err := validateTab(id); err != nil {
			return types.ToolResult{}, err
		}
	}
	b.touchSession(sessionID)

	if b.upstream == nil || !b.upstream.Connected() {
		return types.ToolResult{}, types.NewError(types.CodeUpstreamUnavailable, "browser host is not connected", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	if tool == types.ToolOpenTab {
		if active, ok := args.Bool("active"); !ok || active {
			b.keepForegroundOwner(ctx, sessionID, args)
		}
	}

	var tabID int
	created := false
	if tool.RequiresTab() {
		var err error
		tabID, created, err = b.resolveTab(ctx, sessionID, args)
		if err != nil {
			return types.ToolResult{}, err
		}
		args.SetTabID(tabID)
	}

	res, err := b.upstream.Call(ctx, types.ToolCall{SessionID: sessionID, Tool: tool, Args: args})
	if err != nil {
		if created {
			b.rollbackClaim(tabID, sessionID)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !types.IsCode(err, types.CodeRequestTimeout) {
			err = types.NewError(types.CodeRequestTimeout, fmt.Sprintf("tool %s timed out after %s", tool, b.requestTimeout), err)
		}
		b.logger.Warn("tool call failed", "tool", tool, "session_id", sessionID, "tab_id", tabID, "error", err)
		return types.ToolResult{}, err
	}

	used := res.TabID
	if used == nil && tool.RequiresTab() {
		used = tabPtr(tabID)
	}
	switch {
	case used == nil:
	case tool == types.ToolCloseTab:
		b.releaseClosed(*used)
	case tool.RequiresTab() || tool == types.ToolOpenTab:
		b.adopt(*used, sessionID)
	}
	if res.TabID == nil && used != nil && tool != types.ToolCloseTab {
		res.TabID = used
	}
	return res, nil
}

func (b *Broker) touchSession(sessionID string) {
	b.mu.Lock()
	now := b.now()
	b.sessionLocked(sessionID, now).LastSeenAt = now
	b.mu.Unlock()
}

// keepForegroundOwner stops open_tab from stealing focus from a tab
// another session is working in.
func (b *Broker) keepForegroundOwner(ctx context.Context, sessionID string, args types.ToolArgs) {
	active, err := b.activeTab(ctx, sessionID)
	if err != nil {
		b.logger.Debug("active tab lookup failed before open_tab", "error", err)
		return
	}
	if owner := b.ownerOf(active); owner != "" && owner != sessionID {
		args["active"] = false
		b.logger.Info("opening tab in background", "session_id", sessionID, "active_tab", active, "owner", owner)
	}
}

func (b *Broker) ownerOf(tabID int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.claims[tabID]; c != nil {
		return c.SessionID
	}
	return ""
}

// activeTab asks the upstream which tab is in the foreground.
func (b *Broker) activeTab(ctx context.Context, sessionID string) (int, error) {
	res, err := b.upstream.Call(ctx, types.ToolCall{SessionID: sessionID, Tool: types.ToolGetActiveTab, Args: types.ToolArgs{}})
	if err != nil {
		return 0, err
	}
	if res.TabID != nil {
		return *res.TabID, nil
	}
	var info types.TabInfo
	if err := json.Unmarshal(res.Result, &info); err != nil || info.TabID <= 0 {
		return 0, types.NewError(types.CodeToolFailure, "upstream returned no active tab", err)
	}
	return info.TabID, nil
}

// resolveTab picks the target tab (explicit, default, then active) and
// reserves it for sessionID. created reports whether this call created the
// claim, so a failed call can undo it.
func (b *Broker) resolveTab(ctx context.Context, sessionID string, args types.ToolArgs) (int, bool, error) {
	if id, ok := args.TabID(); ok {
		return b.reserve(id, sessionID, false)
	}

	b.mu.Lock()
	var def *int
	if s := b.sessions[sessionID]; s != nil && s.DefaultTabID != nil {
		def = tabPtr(*s.DefaultTabID)
	}
	b.mu.Unlock()
	if def != nil {
		return b.reserve(*def, sessionID, false)
	}

	active, err := b.activeTab(ctx, sessionID)
	if err != nil {
		return 0, false, err
	}
	return b.reserve(active, sessionID, true)
}

// reserve is the ownership check made immediately before dispatch: it fails
// when another session owns the tab, otherwise claims or refreshes it.
func (b *Broker) reserve(tabID int, sessionID string, makeDefault bool) (int, bool, error) {
	b.mu.Lock()
	c := b.claims[tabID]
	if c != nil && c.SessionID != sessionID {
		owner := c.SessionID
		b.mu.Unlock()
		return 0, false, fmt.Errorf("%w; %s", conflictError(tabID, owner), conflictGuidance)
	}
	now := b.now()
	var events []Event
	created := c == nil
	switch {
	case makeDefault:
		_, events = b.claimLocked(tabID, sessionID, now)
	case created:
		// an explicit tab becomes the default only once the call succeeds
		b.claims[tabID] = &types.Claim{TabID: tabID, SessionID: sessionID, ClaimedAt: now, LastSeenAt: now}
		b.sessionLocked(sessionID, now).LastSeenAt = now
		events = append(events, Event{Feed: FeedClaims, Kind: EventClaimed, TabID: tabPtr(tabID), SessionID: sessionID, At: now})
	default:
		c.LastSeenAt = now
	}
	b.mu.Unlock()
	b.publish(events)
	return tabID, created, nil
}

func (b *Broker) rollbackClaim(tabID int, sessionID string) {
	b.mu.Lock()
	c := b.claims[tabID]
	if c == nil || c.SessionID != sessionID {
		b.mu.Unlock()
		return
	}
	evt, _ := b.releaseLocked(tabID, "call failed", b.now())
	b.mu.Unlock()
	b.publish([]Event{evt})
}

// adopt refreshes or creates sessionID's claim on the tab a call used and
// makes it the default. A tab owned by someone else is left alone.
func (b *Broker) adopt(tabID int, sessionID string) {
	b.mu.Lock()
	if c := b.claims[tabID]; c != nil && c.SessionID != sessionID {
		owner := c.SessionID
		b.mu.Unlock()
		b.logger.Warn("tool reported a tab owned by another session", "tab_id", tabID, "session_id", sessionID, "owner", owner)
		return
	}
	_, events := b.claimLocked(tabID, sessionID, b.now())
	b.mu.Unlock()
	b.publish(events)
}

func (b *Broker) releaseClosed(tabID int) {
	b.mu.Lock()
	evt, ok := b.releaseLocked(tabID, "tab closed", b.now())
	b.mu.Unlock()
	if ok {
		b.publish([]Event{evt})
	}
}

// Package broker owns tab leases and routes every tool call from client
// sessions to the single browser upstream.
package broker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
)

// Options configures a Broker.
type Options struct {
	// TTL is the claim inactivity timeout; zero disables expiry.
	TTL            time.Duration
	RequestTimeout time.Duration
	Backend        string
	Logger         *slog.Logger
	Hub            *Hub
	Now            func() time.Time
}

// DefaultRequestTimeout bounds a forwarded tool call when Options leaves it
// unset.
const DefaultRequestTimeout = 60 * time.Second

// Broker holds claims and per-session state under one mutex. No lock is
// held while a call is outstanding upstream.
type Broker struct {
	ttl            time.Duration
	requestTimeout time.Duration
	backend        string
	logger         *slog.Logger
	hub            *Hub
	now            func() time.Time

	upstream Upstream
	link     *Link

	mu       sync.Mutex
	claims   map[int]*types.Claim
	sessions map[string]*types.SessionState
	conns    map[string]int
}

// New creates a broker forwarding tool calls to up. When up is a *Link the
// broker also accepts native-host connections for it.
func New(up Upstream, opts Options) *Broker {
	b := &Broker{
		ttl:            opts.TTL,
		requestTimeout: opts.RequestTimeout,
		backend:        opts.Backend,
		logger:         opts.Logger,
		hub:            opts.Hub,
		now:            opts.Now,
		upstream:       up,
		claims:         make(map[int]*types.Claim),
		sessions:       make(map[string]*types.SessionState),
		conns:          make(map[string]int),
	}
	if b.requestTimeout <= 0 {
		b.requestTimeout = DefaultRequestTimeout
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.hub == nil {
		b.hub = NewHub()
	}
	if b.now == nil {
		b.now = time.Now
	}
	if link, ok := up.(*Link); ok {
		b.link = link
	}
	return b
}

// Hub returns the event hub.
func (b *Broker) Hub() *Hub { return b.hub }

// TTL returns the claim inactivity timeout.
func (b *Broker) TTL() time.Duration { return b.ttl }

func (b *Broker) publish(events []Event) {
	for _, evt := range events {
		b.hub.Publish(evt)
	}
}

func tabPtr(id int) *int { return &id }

func conflictError(tabID int, owner string) error {
	return types.Errorf(types.CodeOwnershipConflict, "tab %d is claimed by session %q", tabID, owner)
}

// sessionLocked returns the state for id, creating it on first contact.
func (b *Broker) sessionLocked(id string, now time.Time) *types.SessionState {
	s := b.sessions[id]
	if s == nil {
		s = &types.SessionState{SessionID: id, LastSeenAt: now}
		b.sessions[id] = s
	}
	return s
}

// releaseLocked deletes a claim and clears its owner's default pointer.
func (b *Broker) releaseLocked(tabID int, reason string, now time.Time) (Event, bool) {
	c := b.claims[tabID]
	if c == nil {
		return Event{}, false
	}
	delete(b.claims, tabID)
	if s := b.sessions[c.SessionID]; s != nil && s.DefaultTabID != nil && *s.DefaultTabID == tabID {
		s.DefaultTabID = nil
	}
	return Event{Feed: FeedClaims, Kind: EventReleased, TabID: tabPtr(tabID), SessionID: c.SessionID, Reason: reason, At: now}, true
}

// claimLocked creates or refreshes sessionID's claim on tabID. The caller
// has already checked that nobody else owns it.
func (b *Broker) claimLocked(tabID int, sessionID string, now time.Time) (*types.Claim, []Event) {
	var events []Event
	c := b.claims[tabID]
	if c == nil {
		c = &types.Claim{TabID: tabID, SessionID: sessionID, ClaimedAt: now, LastSeenAt: now}
		b.claims[tabID] = c
		events = append(events, Event{Feed: FeedClaims, Kind: EventClaimed, TabID: tabPtr(tabID), SessionID: sessionID, At: now})
	} else {
		c.LastSeenAt = now
	}
	s := b.sessionLocked(sessionID, now)
	s.LastSeenAt = now
	s.DefaultTabID = tabPtr(tabID)
	return c, events
}

func validateSession(sessionID string) error {
	if sessionID == "" {
		return types.NewError(types.CodeValidation, "session id is required", nil)
	}
	return nil
}

func validateTab(tabID int) error {
	if tabID <= 0 {
		return types.Errorf(types.CodeValidation, "tab id must be positive, got %d", tabID)
	}
	return nil
}

// ClaimTab gives sessionID the claim on tabID and makes it the session's
// default tab. Re-claiming an owned tab only refreshes lastSeenAt. A tab
// owned by another session is taken over only with force.
func (b *Broker) ClaimTab(tabID int, sessionID string, force bool) (types.Claim, error) {
	if err := validateSession(sessionID); err != nil {
		return types.Claim{}, err
	}
	if err := validateTab(tabID); err != nil {
		return types.Claim{}, err
	}

	b.mu.Lock()
	now := b.now()
	var events []Event
	if c := b.claims[tabID]; c != nil && c.SessionID != sessionID {
		if !force {
			b.mu.Unlock()
			return types.Claim{}, fmt.Errorf("%w (pass force to take it over)", conflictError(tabID, c.SessionID))
		}
		evt, _ := b.releaseLocked(tabID, "forced", now)
		events = append(events, evt)
	}
	c, claimed := b.claimLocked(tabID, sessionID, now)
	events = append(events, claimed...)
	out := *c
	b.mu.Unlock()

	b.publish(events)
	b.logger.Info("tab claimed", "tab_id", tabID, "session_id", sessionID, "force", force)
	return out, nil
}

// ReleaseTab drops sessionID's claim on tabID. Releasing an unclaimed tab
// is a no-op that reports false; releasing another session's tab fails and
// changes nothing.
func (b *Broker) ReleaseTab(tabID int, sessionID string) (bool, error) {
	if err := validateSession(sessionID); err != nil {
		return false, err
	}
	if err := validateTab(tabID); err != nil {
		return false, err
	}

	b.mu.Lock()
	c := b.claims[tabID]
	if c == nil {
		b.mu.Unlock()
		return false, nil
	}
	if c.SessionID != sessionID {
		b.mu.Unlock()
		return false, conflictError(tabID, c.SessionID)
	}
	now := b.now()
	evt, _ := b.releaseLocked(tabID, "released", now)
	if s := b.sessions[sessionID]; s != nil {
		s.LastSeenAt = now
	}
	b.mu.Unlock()

	b.publish([]Event{evt})
	b.logger.Info("tab released", "tab_id", tabID, "session_id", sessionID)
	return true, nil
}

// ListClaims returns every claim sorted by tab id.
func (b *Broker) ListClaims() []types.Claim {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.claimsLocked()
}

func (b *Broker) claimsLocked() []types.Claim {
	out := make([]types.Claim, 0, len(b.claims))
	for _, c := range b.claims {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Status reports upstream connectivity, claims and the caller's session
// state without changing anything.
func (b *Broker) Status(sessionID string) types.Status {
	st := types.Status{
		Connected: b.upstream != nil && b.upstream.Connected(),
		Backend:   b.backend,
		TTLMs:     b.ttl.Milliseconds(),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st.Claims = b.claimsLocked()
	if s := b.sessions[sessionID]; s != nil {
		cp := *s
		if s.DefaultTabID != nil {
			cp.DefaultTabID = tabPtr(*s.DefaultTabID)
		}
		st.Session = &cp
	}
	return st
}

// SessionInfo is a session as listed by Sessions.
type SessionInfo struct {
	types.SessionState
	Connections int `json:"connections"`
	Claims      int `json:"claims"`
}

// Sessions lists known sessions sorted by id.
func (b *Broker) Sessions() []SessionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	held := make(map[string]int, len(b.sessions))
	for _, c := range b.claims {
		held[c.SessionID]++
	}
	out := make([]SessionInfo, 0, len(b.sessions))
	for id, s := range b.sessions {
		cp := *s
		if s.DefaultTabID != nil {
			cp.DefaultTabID = tabPtr(*s.DefaultTabID)
		}
		out = append(out, SessionInfo{SessionState: cp, Connections: b.conns[id], Claims: held[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// SessionConnected records a live connection for sessionID.
func (b *Broker) SessionConnected(sessionID string) {
	b.mu.Lock()
	now := b.now()
	b.conns[sessionID]++
	s := b.sessionLocked(sessionID, now)
	s.LastSeenAt = now
	b.mu.Unlock()

	b.publish([]Event{{Feed: FeedSessions, Kind: EventConnected, SessionID: sessionID, At: now}})
}

// SessionDisconnected drops one connection of sessionID. When it was the
// last one, every claim and the session state are released immediately.
func (b *Broker) SessionDisconnected(sessionID string) {
	b.mu.Lock()
	now := b.now()
	b.conns[sessionID]--
	if b.conns[sessionID] > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.conns, sessionID)
	var events []Event
	for tabID, c := range b.claims {
		if c.SessionID != sessionID {
			continue
		}
		if evt, ok := b.releaseLocked(tabID, "disconnected", now); ok {
			events = append(events, evt)
		}
	}
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	events = append(events, Event{Feed: FeedSessions, Kind: EventDisconnected, SessionID: sessionID, At: now})
	b.publish(events)
	b.logger.Info("session disconnected", "session_id", sessionID, "released", len(events)-1)
}

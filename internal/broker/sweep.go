package broker

import (
	"context"
	"time"
)

const (
	minSweepInterval = time.Second
	maxSweepInterval = 30 * time.Second
)

// SweepInterval is ttl/4 clamped to [1s, 30s].
func SweepInterval(ttl time.Duration) time.Duration {
	d := ttl / 4
	if d < minSweepInterval {
		return minSweepInterval
	}
	if d > maxSweepInterval {
		return maxSweepInterval
	}
	return d
}

// Sweep drops claims idle for longer than the TTL, then sessions that hold
// no claims and are idle past the TTL. It returns how many of each were
// removed. A zero TTL disables expiry.
func (b *Broker) Sweep(now time.Time) (claims, sessions int) {
	if b.ttl <= 0 {
		return 0, 0
	}
	b.mu.Lock()
	var events []Event
	for tabID, c := range b.claims {
		if now.Sub(c.LastSeenAt) <= b.ttl {
			continue
		}
		if evt, ok := b.releaseLocked(tabID, "expired", now); ok {
			events = append(events, evt)
			claims++
		}
	}
	owning := make(map[string]bool, len(b.claims))
	for _, c := range b.claims {
		owning[c.SessionID] = true
	}
	for id, s := range b.sessions {
		if owning[id] || now.Sub(s.LastSeenAt) <= b.ttl {
			continue
		}
		delete(b.sessions, id)
		sessions++
	}
	b.mu.Unlock()

	b.publish(events)
	if claims > 0 || sessions > 0 {
		b.logger.Info("lease sweep", "expired_claims", claims, "expired_sessions", sessions)
	}
	return claims, sessions
}

// RunSweeper sweeps on SweepInterval(ttl) until ctx is done. It returns at
// once when expiry is disabled.
func (b *Broker) RunSweeper(ctx context.Context) {
	if b.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(SweepInterval(b.ttl))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep(b.now())
		}
	}
}

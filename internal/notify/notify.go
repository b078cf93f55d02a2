// Package notify pushes noteworthy broker events (claims lost to a takeover
// or expiry, the browser host dropping) to an ntfy-style HTTP endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/tablease/internal/broker"
)

const sendTimeout = 5 * time.Second

// Send posts message as text/plain to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "tablease")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// Message renders evt as a one-line notification. ok is false for events
// not worth a push: routine claims, voluntary releases and session churn.
func Message(evt broker.Event) (string, bool) {
	switch evt.Feed {
	case broker.FeedClaims:
		if evt.Kind != broker.EventReleased || evt.TabID == nil {
			return "", false
		}
		switch evt.Reason {
		case "forced":
			return fmt.Sprintf("tab %d was taken over from session %s", *evt.TabID, evt.SessionID), true
		case "expired":
			return fmt.Sprintf("claim on tab %d by session %s expired", *evt.TabID, evt.SessionID), true
		case "tab closed":
			return fmt.Sprintf("tab %d held by session %s was closed", *evt.TabID, evt.SessionID), true
		}
	case broker.FeedUpstream:
		switch evt.Kind {
		case broker.EventDisconnected:
			return "browser host disconnected", true
		case broker.EventReplaced:
			return "browser host connection replaced", true
		}
	}
	return "", false
}

// Notifier forwards hub events to an endpoint until its context ends.
type Notifier struct {
	hub      *broker.Hub
	client   *http.Client
	endpoint string
}

func NewNotifier(hub *broker.Hub, endpoint string, client *http.Client) *Notifier {
	return &Notifier{hub: hub, client: client, endpoint: endpoint}
}

func (n *Notifier) Run(ctx context.Context) error {
	id, ch := n.hub.Subscribe()
	defer n.hub.Unsubscribe(id)
	slog.Info("notifications enabled", "endpoint", n.endpoint)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, ok := Message(evt)
			if !ok {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if err := Send(sendCtx, n.client, n.endpoint, msg); err != nil {
				slog.Warn("notification failed", "error", err)
			}
			cancel()
		}
	}
}

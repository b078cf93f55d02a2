package storage

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/tablease/internal/broker"
)

// Audit copies every hub event into a per-feed JSONL file. The log is
// write-only; nothing reads it back.
type Audit struct {
	hub      *broker.Hub
	registry *WriterRegistry
}

// NewAudit writes under dir, naming files after instance (typically a
// random id per broker run).
func NewAudit(dir, instance string, hub *broker.Hub) *Audit {
	return &Audit{
		hub:      hub,
		registry: NewWriterRegistry(dir, instance, 1024, 50),
	}
}

// Run records events until ctx is done, then flushes the files.
func (a *Audit) Run(ctx context.Context) error {
	id, ch := a.hub.Subscribe()
	defer a.hub.Unsubscribe(id)
	slog.Info("audit log started", "dir", a.registry.baseDir)

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case evt := <-ch:
					a.record(evt)
				default:
					return a.registry.Close()
				}
			}
		case evt, ok := <-ch:
			if !ok {
				return a.registry.Close()
			}
			a.record(evt)
		}
	}
}

func (a *Audit) record(evt broker.Event) {
	if err := a.registry.Writer(evt.Feed).Write(evt); err != nil {
		slog.Debug("audit record dropped", "feed", evt.Feed, "error", err)
	}
}

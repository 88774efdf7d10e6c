package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// Publisher mirrors lifecycle events onto a redis pub/sub channel so that
// operational tooling can watch presence without touching the relay. A nil
// Publisher is valid and publishes nothing; the relay works the same with or
// without redis configured.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	if rdb == nil {
		return nil
	}
	return &Publisher{rdb: rdb}
}

// Publish marshals payload into an Event envelope and fires it at the
// presence channel. Failures are logged and swallowed; the relay never blocks
// or degrades on the mirror.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) {
	if p == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "could not marshal lifecycle payload", "event", eventType, "error", err)
		return
	}
	event, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		slog.ErrorContext(ctx, "could not marshal lifecycle event", "event", eventType, "error", err)
		return
	}

	if err := p.rdb.Publish(ctx, PresenceChannel, event).Err(); err != nil {
		slog.WarnContext(ctx, "failed to publish lifecycle event", "event", eventType, "error", err)
	}
}

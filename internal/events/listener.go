package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel the control API publishes events on.
const Channel = "dialer:events"

// Publish sends one event onto the pub/sub channel.
func Publish(ctx context.Context, rdb *redis.Client, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if err := rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Listener consumes the pub/sub channel and feeds the reactor. Malformed
// payloads are logged and dropped; the listener never stops for a bad event.
type Listener struct {
	rdb     *redis.Client
	reactor *Reactor
	log     *slog.Logger
}

func NewListener(rdb *redis.Client, reactor *Reactor, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{rdb: rdb, reactor: reactor, log: log}
}

// Run blocks until ctx is cancelled or the subscription closes.
func (l *Listener) Run(ctx context.Context) error {
	sub := l.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	// Fail fast if the subscription could not be established.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				l.log.Warn("dropping malformed event", "err", err)
				continue
			}
			res := l.reactor.Handle(ctx, ev)
			l.log.Debug("event handled", "event_type", ev.Type, "status", res.Status)
		}
	}
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("events: decode: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("events: missing event_type")
	}
	return ev, nil
}

package common

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cryptorafts/platform/internal/logging"
)

const DefaultChangeChannel = "cryptorafts:document_changes"

// RedisChangeHub shares change events between server instances over Redis pub/sub.
// Local subscribers are served by an embedded LocalChangeHub; events published by
// other instances are replayed into it.
type RedisChangeHub struct {
	local   *LocalChangeHub
	client  *redis.Client
	channel string
	origin  string
}

var _ ChangeHub = (*RedisChangeHub)(nil)

func NewRedisChangeHub(client *redis.Client, channel string) *RedisChangeHub {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	return &RedisChangeHub{
		local:   NewLocalChangeHub(),
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

func (h *RedisChangeHub) Subscribe(collection string, buffer int) (<-chan ChangeEvent, func()) {
	return h.local.Subscribe(collection, buffer)
}

// Publish delivers locally right away and forwards the event to other instances
func (h *RedisChangeHub) Publish(ctx context.Context, event ChangeEvent) {
	event.Origin = h.origin
	h.local.Publish(ctx, event)

	payload, err := json.Marshal(event)
	if err != nil {
		logging.Error("Failed to encode change event", "document_id", event.DocumentID, "error", err)
		return
	}
	if err := h.client.Publish(ctx, h.channel, payload).Err(); err != nil {
		logging.Warn("Failed to publish change event",
			"channel", h.channel,
			"document_id", event.DocumentID,
			"error", err,
		)
	}
}

// Start subscribes to the shared channel and replays remote events until ctx ends.
// It returns once the subscription is confirmed by Redis.
func (h *RedisChangeHub) Start(ctx context.Context) error {
	pubsub := h.client.Subscribe(ctx, h.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", h.channel, err)
	}

	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logging.Warn("Ignoring malformed change event", "channel", h.channel, "error", err)
					continue
				}
				if event.Origin == h.origin {
					continue
				}
				h.local.Publish(ctx, event)
			}
		}
	}()
	return nil
}

package ticker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the Redis pub/sub channel carrying clap events.
const DefaultChannel = "openclapp:events"

// RedisBridge shares events between instances. Publish sends to Redis and
// Run relays every message on the channel, including this instance's own,
// to the local hub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     logrus.FieldLogger
}

// NewRedisBridge connects a hub to a Redis channel.
func NewRedisBridge(client *redis.Client, channel string, hub *Hub, log logrus.FieldLogger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisBridge{client: client, channel: channel, hub: hub, log: log}
}

// Publish implements service.Publisher. Failures are logged; the event is
// already committed and remains visible through the event log.
func (b *RedisBridge) Publish(ctx context.Context, e schema.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.log.WithError(err).Error("encode ticker event")
		return
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.log.WithError(err).WithField("event_id", e.ID).Warn("redis publish failed")
	}
}

// Run relays the channel to the hub until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.WithField("channel", b.channel).Info("relaying ticker events from redis")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *RedisBridge) relay(payload string) {
	var e schema.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		b.log.WithError(err).Warn("discarding malformed ticker message")
		return
	}
	b.hub.Broadcast(e)
}

package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient parses url, connects and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBroker fans events out to every server process. Publish goes to a
// Redis channel; Run relays that channel into the process-local broker, and
// Subscribe reads from the local broker.
type RedisBroker struct {
	client  *redis.Client
	channel string
	local   Broker
	logger  zerolog.Logger
}

func NewRedisBroker(client *redis.Client, channel string, local Broker, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger.With().Str("component", "redis-relay").Logger(),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	return b.local.Subscribe(ctx, topic)
}

// Run relays the Redis channel into the local broker until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info().Str("channel", b.channel).Msg("relaying events")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, msg)
		}
	}
}

func (b *RedisBroker) relay(ctx context.Context, msg *redis.Message) {
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		b.logger.Warn().Err(err).Msg("malformed event on relay channel")
		return
	}
	if err := b.local.Publish(ctx, ev); err != nil {
		b.logger.Debug().Err(err).Str("topic", ev.Topic).Msg("local delivery failed")
	}
}

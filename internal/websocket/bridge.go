package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
)

// DefaultBridgeChannel is the Redis channel hub instances share.
const DefaultBridgeChannel = "fellowship:events"

// envelope wraps an event with the instance that published it
type envelope struct {
	Origin string       `json:"origin"`
	Event  models.Event `json:"event"`
}

// RedisBridge relays hub events between server instances over Redis pub/sub.
// Events published by this instance are ignored when they come back.
type RedisBridge struct {
	rdb      *redis.Client
	channel  string
	instance string
	log      zerolog.Logger
}

// NewRedisBridge creates a bridge on channel. An empty channel uses
// DefaultBridgeChannel.
func NewRedisBridge(rdb *redis.Client, channel string, log zerolog.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultBridgeChannel
	}
	return &RedisBridge{
		rdb:      rdb,
		channel:  channel,
		instance: uuid.New().String(),
		log:      log.With().Str("component", "bridge").Logger(),
	}
}

// Forward publishes ev for the other instances.
func (b *RedisBridge) Forward(ctx context.Context, ev models.Event) error {
	raw, err := b.encode(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

// Listen delivers events published by other instances until ctx is done.
func (b *RedisBridge) Listen(ctx context.Context, deliver func(models.Event)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Str("instance", b.instance).Msg("Bridge subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := b.decode([]byte(msg.Payload))
			if ok {
				deliver(ev)
			}
		}
	}
}

func (b *RedisBridge) encode(ev models.Event) ([]byte, error) {
	raw, err := json.Marshal(envelope{Origin: b.instance, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return raw, nil
}

// decode returns the event inside raw unless it is malformed or came from
// this instance.
func (b *RedisBridge) decode(raw []byte) (models.Event, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.log.Warn().Err(err).Msg("Dropping malformed bridge message")
		return models.Event{}, false
	}
	if env.Origin == b.instance || env.Event.Name == "" {
		return models.Event{}, false
	}
	return env.Event, true
}

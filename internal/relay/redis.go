// Package relay republishes OBS events on Redis pub/sub so that processes
// without their own OBS session can follow them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cyradotpink/influencer/internal/config"
	"github.com/cyradotpink/influencer/internal/obsws"
)

// envelope tags an event with the instance that relayed it.
type envelope struct {
	InstanceID string      `json:"instance_id"`
	Event      obsws.Event `json:"event"`
}

// EventSource is anything events can be pulled from, typically an
// *obsws.Subscription.
type EventSource interface {
	Next(ctx context.Context) (obsws.Event, error)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisRelay publishes events to, and reads events from, one Redis channel.
type RedisRelay struct {
	client     *redis.Client
	pub        publisher
	channel    string
	instanceID string
	logger     zerolog.Logger
	published  atomic.Int64
}

func NewRedisRelay(cfg config.RedisConfig, logger zerolog.Logger) *RedisRelay {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisRelay{
		client:     client,
		pub:        client,
		channel:    cfg.Channel(),
		instanceID: uuid.New().String(),
		logger:     logger.With().Str("component", "redis-relay").Logger(),
	}
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) InstanceID() string { return r.instanceID }

func (r *RedisRelay) Channel() string { return r.channel }

// Published returns how many events have been published so far.
func (r *RedisRelay) Published() int64 { return r.published.Load() }

// Publish sends one event.
func (r *RedisRelay) Publish(ctx context.Context, ev obsws.Event) error {
	data, err := json.Marshal(envelope{InstanceID: r.instanceID, Event: ev})
	if err != nil {
		return err
	}
	if err := r.pub.Publish(ctx, r.channel, data).Err(); err != nil {
		return err
	}
	r.published.Add(1)
	return nil
}

// Run publishes everything src yields until ctx ends or src is exhausted.
// Failed publishes are logged and skipped.
func (r *RedisRelay) Run(ctx context.Context, src EventSource) error {
	r.logger.Info().
		Str("instance_id", r.instanceID).
		Str("channel", r.channel).
		Msg("relaying events")
	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.Publish(ctx, ev); err != nil {
			r.logger.Error().Err(err).Str("event_type", ev.Type).Msg("publish failed")
		}
	}
}

// Listen calls handle for every event relayed by another instance until ctx
// ends.
func (r *RedisRelay) Listen(ctx context.Context, handle func(obsws.Event)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay: subscription closed")
			}
			if ev, ok := r.decode(msg.Payload); ok {
				handle(ev)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *RedisRelay) decode(payload string) (obsws.Event, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode relayed event")
		return obsws.Event{}, false
	}
	if env.InstanceID == r.instanceID {
		return obsws.Event{}, false
	}
	r.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("event_type", env.Event.Type).
		Msg("relayed event")
	return env.Event, true
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

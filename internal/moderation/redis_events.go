package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"driftcast/internal/observability/logging"
)

const (
	pendingStream    = "driftcast:chat:pending"
	consumerGroup    = "moderators"
	messageIDField   = "message_id"
	readBlock        = 5 * time.Second
	readBatch        = 16
	reconnectDelay   = 2 * time.Second
	connectAttempts  = 5
	connectBaseDelay = 500 * time.Millisecond
	connectMaxDelay  = 8 * time.Second
)

// Event is one pending-message notification. Ack must be called after the
// message has been finalized so redeliveries stop.
type Event struct {
	MessageID string
	ack       func(ctx context.Context) error
}

// Ack acknowledges the event with the broker.
func (e Event) Ack(ctx context.Context) error {
	if e.ack == nil {
		return nil
	}
	return e.ack(ctx)
}

// EventSource feeds the pipeline with pending-message events.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

// EventPublisher announces newly created pending messages.
type EventPublisher interface {
	PublishPending(ctx context.Context, messageID string) error
}

// RedisEvents is the Redis Streams implementation of both sides. Consumers
// share one consumer group so each pending message is handed to one pipeline
// instance at a time, with redelivery if that instance dies mid-flight.
type RedisEvents struct {
	client   *redis.Client
	consumer string
	logger   *slog.Logger
}

// NewRedisEvents connects with bounded exponential backoff and ensures the
// consumer group exists.
func NewRedisEvents(ctx context.Context, redisURL, consumerName string, logger *slog.Logger) (*RedisEvents, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	log := logging.WithComponent(logger, "moderation-events")

	delay := connectBaseDelay
	for attempt := 1; ; attempt++ {
		err = client.Ping(ctx).Err()
		if err == nil {
			break
		}
		if attempt >= connectAttempts {
			client.Close()
			return nil, fmt.Errorf("connect redis after %d attempts: %w", attempt, err)
		}
		log.Warn("redis unavailable, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > connectMaxDelay {
			delay = connectMaxDelay
		}
	}

	events := &RedisEvents{
		client:   client,
		consumer: strings.TrimSpace(consumerName),
		logger:   log,
	}
	if events.consumer == "" {
		events.consumer = "pipeline-1"
	}
	if err := events.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return events, nil
}

func (r *RedisEvents) ensureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, pendingStream, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// PublishPending appends the message ID to the pending stream.
func (r *RedisEvents) PublishPending(ctx context.Context, messageID string) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: pendingStream,
		Values: map[string]any{messageIDField: messageID},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish pending event: %w", err)
	}
	return nil
}

// Subscribe reads the group until the context is cancelled. Broker errors log
// and back off rather than killing the subscription.
func (r *RedisEvents) Subscribe(ctx context.Context) (<-chan Event, error) {
	events := make(chan Event)
	go func() {
		defer close(events)
		for {
			if ctx.Err() != nil {
				return
			}
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    consumerGroup,
				Consumer: r.consumer,
				Streams:  []string{pendingStream, ">"},
				Count:    readBatch,
				Block:    readBlock,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("read pending stream failed, reconnecting", "error", err)
				select {
				case <-time.After(reconnectDelay):
				case <-ctx.Done():
					return
				}
				continue
			}
			for _, stream := range streams {
				for _, entry := range stream.Messages {
					event := r.adapt(entry)
					if event.MessageID == "" {
						r.client.XAck(ctx, pendingStream, consumerGroup, entry.ID)
						continue
					}
					select {
					case events <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return events, nil
}

func (r *RedisEvents) adapt(entry redis.XMessage) Event {
	messageID, _ := entry.Values[messageIDField].(string)
	return Event{
		MessageID: messageID,
		ack: func(ctx context.Context) error {
			return r.client.XAck(ctx, pendingStream, consumerGroup, entry.ID).Err()
		},
	}
}

// Close releases the client.
func (r *RedisEvents) Close() error {
	return r.client.Close()
}

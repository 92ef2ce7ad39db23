package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("events")

// Pub/Sub channel constants
const (
	ListChannel = "channel:list"
)

// Event types
const (
	TypeListEntryUpserted = "list_entry_upserted"
)

// Event represents a message published via Pub/Sub.
type Event struct {
	Type    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ListEntryUpsertedPayload is the payload for the "list_entry_upserted" event.
type ListEntryUpsertedPayload struct {
	UserID    int64     `json:"user_id"`
	ItemID    string    `json:"item_id"`
	Status    string    `json:"status"`
	Created   bool      `json:"created"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Publisher announces list changes to other processes.
type Publisher interface {
	PublishListEntryUpserted(ctx context.Context, p ListEntryUpsertedPayload) error
}

// NopPublisher drops every event. It is used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishListEntryUpserted(context.Context, ListEntryUpsertedPayload) error {
	return nil
}

type redisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher publishes events on channel, or ListChannel when empty.
func NewRedisPublisher(rdb *redis.Client, channel string) Publisher {
	if channel == "" {
		channel = ListChannel
	}
	return &redisPublisher{rdb: rdb, channel: channel}
}

func (p *redisPublisher) PublishListEntryUpserted(ctx context.Context, payload ListEntryUpsertedPayload) error {
	ctx, span := tracer.Start(ctx, "Publisher.PublishListEntryUpserted", trace.WithAttributes(
		attribute.String("event.channel", p.channel),
		attribute.Int64("list.user_id", payload.UserID),
		attribute.String("list.item_id", payload.ItemID),
	))
	defer span.End()

	event, err := encode(TypeListEntryUpserted, payload)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, event).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to publish event")
		return fmt.Errorf("failed to publish %s event: %w", TypeListEntryUpserted, err)
	}
	return nil
}

func encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	event, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return event, nil
}

// Subscribe delivers every list event published on channel to handle until ctx
// is done. Messages that cannot be decoded are logged and skipped.
func Subscribe(ctx context.Context, rdb *redis.Client, channel string, handle func(context.Context, Event)) error {
	if channel == "" {
		channel = ListChannel
	}
	pubsub := rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	slog.InfoContext(ctx, "Event subscriber started", "channel", channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.ErrorContext(ctx, "Could not unmarshal list event", "error", err)
				continue
			}
			handle(ctx, event)
		}
	}
}

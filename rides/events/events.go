// Package events publishes ride lifecycle changes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/m3rciful/ridesbot/core/logger"
	"github.com/m3rciful/ridesbot/rides/ride"
)

// Type names a ride lifecycle change.
type Type string

const (
	RideCreated   Type = "ride.created"
	RideUpdated   Type = "ride.updated"
	RideCancelled Type = "ride.cancelled"
	RideDeleted   Type = "ride.deleted"
	RideExpired   Type = "ride.expired"
)

// Event is the JSON payload written to the topic.
type Event struct {
	Type       Type       `json:"type"`
	RideID     string     `json:"ride_id"`
	OwnerID    int64      `json:"owner_id"`
	Ride       *ride.Ride `json:"ride,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops every event; used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects brokers and topic for the Kafka publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Kafka writes events to one topic, keyed by ride id so that all changes of a
// ride land on the same partition in order.
type Kafka struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafka builds a synchronous publisher.
func NewKafka(cfg Config) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("events: kafka topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{writer: w, topic: cfg.Topic, timeout: cfg.WriteTimeout}, nil
}

// Publish writes ev and waits for the broker acknowledgement.
func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	start := time.Now()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	logger.Debug(ctx, "events", "event.published",
		slog.String("status", "ok"),
		slog.String("type", string(ev.Type)),
		slog.String("ride_id", ev.RideID),
		slog.String("topic", k.topic),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Message encodes ev as a Kafka message keyed by ride id.
func Message(ev Event) (kafka.Message, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: encode %s: %w", ev.Type, err)
	}
	return kafka.Message{
		Key:   []byte(ev.RideID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

// For builds an event snapshotting r.
func For(t Type, r ride.Ride, now time.Time) Event {
	snap := r
	return Event{Type: t, RideID: r.ID, OwnerID: r.OwnerID, Ride: &snap, OccurredAt: now.UTC()}
}

var (
	_ Publisher = Noop{}
	_ Publisher = (*Kafka)(nil)
)

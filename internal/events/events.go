// Package events publishes catalog changes for other services. Publishing is
// best effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	MoviePosted      = "movie.posted"
	MovieRemoved     = "movie.removed"
	RequestCreated   = "request.created"
	RequestFulfilled = "request.fulfilled"
)

// Queues lists every queue an AMQPPublisher declares.
var Queues = []string{MoviePosted, MovieRemoved, RequestCreated, RequestFulfilled}

type Event struct {
	Type       string    `json:"type"`
	MovieID    int64     `json:"movie_id,omitempty"`
	RequestID  int64     `json:"request_id,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Channels   []string  `json:"channels,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Emit publishes ev and logs instead of returning failures.
func Emit(ctx context.Context, p Publisher, logger hclog.Logger, ev Event) {
	if p == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, ev); err != nil && logger != nil {
		logger.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}

// AMQPPublisher sends events to durable queues named after the event type
// through the default exchange. Messages are persistent.
type AMQPPublisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger hclog.Logger
}

func DialAMQP(url string, logger hclog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq declare %s: %w", q, err)
		}
	}
	return &AMQPPublisher{conn: conn, ch: ch, logger: logger.Named("events")}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", ev.Type, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", ev.Type, err)
	}
	p.logger.Debug("event published", "type", ev.Type, "id", pub.MessageId)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

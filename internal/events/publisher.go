package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rfblock/hackagotchi/internal/notify"
)

const (
	exchangeName = "hackmarket.events"
	exchangeType = "topic"

	// Event types
	EventTypeMarketListed   = "market.listed"
	EventTypeMarketDelisted = "market.delisted"

	eventVersion = "1.0.0"

	// Retry configuration
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	confirmTimeout = 5 * time.Second
)

// confirmation resolves to the broker's ack or nack for one publish
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// publishFunc sends one message and returns its pending confirmation
type publishFunc func(ctx context.Context, routingKey string, msg amqp.Publishing) (confirmation, error)

// Publisher publishes marketplace events to RabbitMQ
type Publisher struct {
	conn           *amqp.Connection
	channel        *amqp.Channel
	publish        publishFunc
	confirmTimeout time.Duration
	log            *zap.Logger
}

var _ notify.Sink = (*Publisher)(nil)

// Event represents a domain event
type Event struct {
	EventID      string                 `json:"event_id"`
	EventType    string                 `json:"event_type"`
	EventVersion string                 `json:"event_version"`
	Timestamp    string                 `json:"timestamp"`
	Payload      map[string]interface{} `json:"payload"`
}

// NewPublisher creates a new event publisher
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	if err := channel.ExchangeDeclare(
		exchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Enable publisher confirms for reliability
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", exchangeName))

	return &Publisher{
		conn:           conn,
		channel:        channel,
		publish:        deferredConfirmPublish(channel),
		confirmTimeout: confirmTimeout,
		log:            log,
	}, nil
}

// deferredConfirmPublish publishes on a confirm-mode channel. Each publish
// gets its own confirmation keyed by delivery tag, so a late ack for an
// abandoned attempt cannot be taken for a later one.
func deferredConfirmPublish(channel *amqp.Channel) publishFunc {
	return func(ctx context.Context, routingKey string, msg amqp.Publishing) (confirmation, error) {
		dc, err := channel.PublishWithDeferredConfirmWithContext(
			ctx,
			exchangeName,
			routingKey,
			false, // mandatory
			false, // immediate
			msg,
		)
		if err != nil {
			return nil, err
		}
		if dc == nil {
			return nil, errors.New("channel is not in confirm mode")
		}
		return dc, nil
	}
}

// Name implements notify.Sink
func (p *Publisher) Name() string {
	return "amqp"
}

// Send implements notify.Sink by publishing the entry as a market event
func (p *Publisher) Send(ctx context.Context, e notify.Entry) error {
	event, err := NewEvent(e)
	if err != nil {
		return err
	}
	return p.publishWithRetry(ctx, event.EventType, event)
}

// NewEvent builds the event envelope for a marketplace entry
func NewEvent(e notify.Entry) (Event, error) {
	payload := map[string]interface{}{
		"category": e.Category,
		"item_id":  e.ItemID,
	}

	var eventType string
	switch e.Kind {
	case notify.Listed:
		eventType = EventTypeMarketListed
		payload["price"] = e.Price
		payload["market_name"] = e.MarketName
	case notify.Delisted:
		eventType = EventTypeMarketDelisted
	default:
		return Event{}, fmt.Errorf("no event type for entry kind %q", e.Kind)
	}

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	return Event{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		EventVersion: eventVersion,
		Timestamp:    at.UTC().Format(time.RFC3339),
		Payload:      payload,
	}, nil
}

// publishWithRetry publishes an event with exponential backoff retry
func (p *Publisher) publishWithRetry(ctx context.Context, routingKey string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to marshal event", zap.Error(err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}

		confirm, err := p.publish(ctx, routingKey, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    event.EventID,
			Body:         body,
			Headers: amqp.Table{
				"event_type":    event.EventType,
				"event_version": event.EventVersion,
			},
		})
		if err != nil {
			lastErr = err
			p.log.Warn("Failed to publish event, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		// Wait for this publish's confirmation
		waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
		acked, err := confirm.WaitContext(waitCtx)
		cancel()
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			lastErr = fmt.Errorf("confirmation timeout: %w", err)
		case acked:
			p.log.Debug("Event published",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
			)
			return nil
		default:
			lastErr = fmt.Errorf("event not acknowledged")
		}

		p.log.Warn("Event publish not confirmed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	p.log.Error("Failed to publish event after retries",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Int("attempts", maxRetries),
		zap.Error(lastErr),
	)
	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, lastErr)
}

// IsHealthy checks if the publisher connection is healthy
func (p *Publisher) IsHealthy() bool {
	return p != nil && p.conn != nil && !p.conn.IsClosed()
}

// Close closes the publisher connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error("Failed to close connection", zap.Error(err))
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}

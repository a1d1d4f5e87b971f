// Package events publishes domain events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/netmetering/internal/config"
	"github.com/smallbiznis/netmetering/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	RoutingKeyReadingAccepted = "reading.accepted"
	RoutingKeyBillGenerated   = "bill.generated"
)

var ErrNotConnected = errors.New("event_publisher_not_connected")

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// Publisher delivers one event. Callers treat failures as best effort.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type noopPublisher struct{}

// NewNoopPublisher returns a publisher that drops every event.
func NewNoopPublisher() Publisher { return noopPublisher{} }

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

// AMQPPublisher publishes JSON events on a durable topic exchange.
type AMQPPublisher struct {
	url      string
	exchange string
	log      *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher returns the AMQP publisher when AMQP_URL is set and a noop publisher otherwise.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	if cfg.AMQP.URL == "" {
		log.Info("event publishing disabled")
		return NewNoopPublisher()
	}

	p := &AMQPPublisher{
		url:      cfg.AMQP.URL,
		exchange: cfg.AMQP.Exchange,
		log:      log.Named("events"),
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return p.connect()
		},
		OnStop: func(context.Context) error {
			return p.Close()
		},
	})
	return p
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	p.log.Info("event publisher connected", zap.String("exchange", p.exchange))
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	msg, err := buildPublishing(ctx, payload, time.Now().UTC())
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil || p.channel.IsClosed() {
		return ErrNotConnected
	}

	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.log.Debug("published event", zap.String("routing_key", routingKey))
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
		p.channel = nil
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	return errors.Join(errs...)
}

func buildPublishing(ctx context.Context, payload any, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := amqp.Table{}
	correlation.InjectTraceIntoHeaders(ctx, headers)
	cid, _ := headers["correlation_id"].(string)

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now,
		CorrelationId: cid,
		Headers:       headers,
		Body:          body,
	}, nil
}

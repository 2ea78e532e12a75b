package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DialFunc opens a broker connection.
type DialFunc func() (*amqp.Connection, error)

// RabbitPublisher publishes JSON events to durable topic exchanges. The
// connection is re-dialled lazily after a failure.
type RabbitPublisher struct {
	dial   DialFunc
	logger *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// NewRabbitPublisher builds a publisher. No connection is opened until
// Connect or the first Publish.
func NewRabbitPublisher(dial DialFunc, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{dial: dial, logger: logger, declared: make(map[string]bool)}
}

// Connect opens the connection and channel eagerly.
func (p *RabbitPublisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureChannel()
}

// Publish sends body to exchange with routingKey. A failed publish reopens the
// channel and is retried once.
func (p *RabbitPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.publishLocked(ctx, exchange, routingKey, body)
	if err == nil {
		return nil
	}
	p.logger.Warn("rabbitmq publish failed, reopening channel",
		slog.String("exchange", exchange), slog.Any("error", err))
	p.resetLocked(false)
	if retryErr := p.publishLocked(ctx, exchange, routingKey, body); retryErr != nil {
		p.resetLocked(true)
		return fmt.Errorf("publish to %s: %w", exchange, retryErr)
	}
	return nil
}

// Ping reports whether the broker connection is open.
func (p *RabbitPublisher) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close releases the channel and connection.
func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(true)
}

func (p *RabbitPublisher) publishLocked(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := p.ensureChannel(); err != nil {
		return err
	}
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *RabbitPublisher) ensureChannel() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial()
		if err != nil {
			return fmt.Errorf("dial rabbitmq: %w", err)
		}
		p.conn = conn
		p.channel = nil
	}
	if p.channel == nil || p.channel.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("open rabbitmq channel: %w", err)
		}
		p.channel = ch
		p.declared = make(map[string]bool)
	}
	return nil
}

func (p *RabbitPublisher) resetLocked(closeConn bool) {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if closeConn && p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.declared = make(map[string]bool)
}

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

const (
	// Exchange is the topic exchange downstream consumers bind to.
	Exchange = "internal.exchange"
	// RoutingKey addresses the notification service queue.
	RoutingKey = "internal.notification.routing-key"
)

// Message is an outbound event waiting in, or claimed from, the outbox.
type Message struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// AccountCreated is the payload announced after an account commits. It carries
// only what the notification service needs to greet the owner.
type AccountCreated struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
}

// NewAccountCreated encodes the creation event for the notification queue.
func NewAccountCreated(id int64, email, firstName string) (Message, error) {
	payload, err := json.Marshal(AccountCreated{ID: id, Email: email, FirstName: firstName})
	if err != nil {
		return Message{}, fmt.Errorf("encode account created event: %w", err)
	}
	return Message{Exchange: Exchange, RoutingKey: RoutingKey, Payload: payload}, nil
}

// Publisher delivers an encoded event to a broker exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// LoggerPublisher writes events to the structured logger instead of a broker.
// It backs local development when RABBITMQ_URL is unset.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish logs the event and always succeeds.
func (p *LoggerPublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("notification",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey),
		slog.String("body", string(body)),
	)
	return nil
}

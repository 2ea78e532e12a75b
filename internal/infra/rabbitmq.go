package infra

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const rabbitDialTimeout = 10 * time.Second

// RabbitDialer validates rawURL and returns a dial function with a bounded
// connect timeout, suitable for re-dialling after a dropped connection.
func RabbitDialer(rawURL string) (func() (*amqp.Connection, error), error) {
	clean, err := SanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	return func() (*amqp.Connection, error) {
		return amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(rabbitDialTimeout)})
	}, nil
}

// SanitizeAMQPURL trims quotes and whitespace commonly left by env files and
// checks the scheme.
func SanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), `"'`)
	if clean == "" {
		return "", errors.New("rabbitmq url is required")
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse rabbitmq url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("rabbitmq url scheme must be amqp:// or amqps://")
	}
	return clean, nil
}

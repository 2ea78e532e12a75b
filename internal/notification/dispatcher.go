package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 1200 * time.Millisecond
	defaultStaleAfter     = 2 * time.Minute
	defaultPublishTimeout = 5 * time.Second
	maxRetryDelay         = 300 * time.Second
)

// DispatcherConfig tunes the outbox polling loop. Zero values take defaults.
type DispatcherConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	StaleAfter     time.Duration
	PublishTimeout time.Duration
}

// Dispatcher drains the outbox into a Publisher. Publish failures are logged
// and rescheduled with backoff; they never reach the code that enqueued the
// event.
type Dispatcher struct {
	outbox    Outbox
	publisher Publisher
	logger    *slog.Logger
	cfg       DispatcherConfig
}

// NewDispatcher wires an outbox to a publisher.
func NewDispatcher(outbox Outbox, publisher Publisher, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &Dispatcher{outbox: outbox, publisher: publisher, logger: logger, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.FlushOnce(ctx); err != nil {
				d.logger.Error("outbox flush failed", slog.Any("error", err))
			}
		}
	}
}

// FlushOnce claims one batch and attempts to publish each message. It returns
// the number of messages handed to the broker.
func (d *Dispatcher) FlushOnce(ctx context.Context) (int, error) {
	messages, err := d.outbox.Claim(ctx, d.cfg.BatchSize, d.cfg.StaleAfter)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range messages {
		if err := d.publish(ctx, msg); err != nil {
			delay := RetryDelay(msg.Attempts)
			d.logger.Warn("notification publish failed",
				slog.Int64("message_id", msg.ID),
				slog.String("exchange", msg.Exchange),
				slog.String("routing_key", msg.RoutingKey),
				slog.Int("attempts", msg.Attempts),
				slog.Duration("retry_in", delay),
				slog.Any("error", err),
			)
			if markErr := d.outbox.MarkFailed(ctx, msg.ID, delay, err.Error()); markErr != nil {
				d.logger.Error("outbox mark failed", slog.Int64("message_id", msg.ID), slog.Any("error", markErr))
			}
			continue
		}
		if err := d.outbox.MarkPublished(ctx, msg.ID); err != nil {
			d.logger.Error("outbox mark published", slog.Int64("message_id", msg.ID), slog.Any("error", err))
			continue
		}
		published++
	}
	return published, nil
}

func (d *Dispatcher) publish(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()
	return d.publisher.Publish(ctx, msg.Exchange, msg.RoutingKey, msg.Payload)
}

// RetryDelay is the backoff before the next delivery attempt: 2^attempts
// seconds, capped at five minutes.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		return time.Second
	}
	if attempts > 8 {
		attempts = 8
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

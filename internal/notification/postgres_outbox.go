package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOutbox keeps events in the event_outbox table so they commit or
// roll back together with the rows that produced them.
type PostgresOutbox struct {
	db *pgxpool.Pool
}

// NewPostgresOutbox builds a Postgres-backed outbox.
func NewPostgresOutbox(db *pgxpool.Pool) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

// Enqueue inserts msg outside of any caller transaction.
func (o *PostgresOutbox) Enqueue(ctx context.Context, msg Message) error {
	tx, err := o.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck
	if err := EnqueueTx(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EnqueueTx inserts msg using the caller's transaction.
func EnqueueTx(ctx context.Context, tx pgx.Tx, msg Message) error {
	_, err := tx.Exec(ctx, `INSERT INTO event_outbox (exchange, routing_key, payload)
        VALUES ($1, $2, $3::jsonb)`,
		strings.TrimSpace(msg.Exchange), strings.TrimSpace(msg.RoutingKey), string(msg.Payload))
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// Claim locks up to limit due messages, including ones whose processing lease
// is older than staleAfter, and bumps their attempt counters.
func (o *PostgresOutbox) Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]Message, error) {
	const query = `
        WITH candidates AS (
            SELECT id
            FROM event_outbox
            WHERE (status = 'pending' AND next_attempt_at <= NOW())
               OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
            ORDER BY created_at
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        UPDATE event_outbox AS o
        SET status = 'processing',
            processing_started_at = NOW(),
            attempts = o.attempts + 1
        FROM candidates
        WHERE o.id = candidates.id
        RETURNING o.id, o.exchange, o.routing_key, o.payload::text, o.attempts`

	rows, err := o.db.Query(ctx, query, limit, int(staleAfter.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("claim outbox messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg     Message
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.Exchange, &msg.RoutingKey, &payload, &msg.Attempts); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payload)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkPublished records a successful hand-off to the broker.
func (o *PostgresOutbox) MarkPublished(ctx context.Context, id int64) error {
	_, err := o.db.Exec(ctx, `UPDATE event_outbox
        SET status = 'published', published_at = NOW(), processing_started_at = NULL, last_error = NULL
        WHERE id = $1`, id)
	return err
}

// MarkFailed releases the lease and schedules the next attempt.
func (o *PostgresOutbox) MarkFailed(ctx context.Context, id int64, retryAfter time.Duration, reason string) error {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	_, err := o.db.Exec(ctx, `UPDATE event_outbox
        SET status = 'pending',
            next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
            processing_started_at = NULL,
            last_error = $3
        WHERE id = $1`, id, seconds, reason)
	return err
}

// Prune deletes published messages older than olderThan.
func (o *PostgresOutbox) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cmd, err := o.db.Exec(ctx, `DELETE FROM event_outbox
        WHERE status = 'published' AND published_at < NOW() - ($1 * INTERVAL '1 second')`, int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("prune outbox: %w", err)
	}
	return cmd.RowsAffected(), nil
}

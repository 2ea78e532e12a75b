package notification

import (
	"context"
	"sync"
	"time"
)

// Outbox stores events durably until the dispatcher has handed them to the
// broker. Enqueue happens inside the write that produced the event; delivery
// happens later and independently.
type Outbox interface {
	Enqueue(ctx context.Context, msg Message) error
	Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]Message, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, retryAfter time.Duration, reason string) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

const (
	statusPending    = "pending"
	statusProcessing = "processing"
	statusPublished  = "published"

	maxErrorLength = 2000
)

type outboxEntry struct {
	msg                 Message
	status              string
	nextAttemptAt       time.Time
	processingStartedAt time.Time
	publishedAt         time.Time
	lastError           string
	createdAt           time.Time
}

// MemoryOutbox is a process-local Outbox used in development and tests.
type MemoryOutbox struct {
	mu      sync.Mutex
	nextID  int64
	entries []*outboxEntry
	now     func() time.Time
}

// NewMemoryOutbox constructs an empty in-memory outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{now: time.Now}
}

func (o *MemoryOutbox) Enqueue(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	msg.ID = o.nextID
	msg.Attempts = 0
	now := o.now()
	o.entries = append(o.entries, &outboxEntry{msg: msg, status: statusPending, nextAttemptAt: now, createdAt: now})
	return nil
}

func (o *MemoryOutbox) Claim(_ context.Context, limit int, staleAfter time.Duration) ([]Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	var claimed []Message
	for _, e := range o.entries {
		if len(claimed) >= limit {
			break
		}
		ready := e.status == statusPending && !e.nextAttemptAt.After(now)
		stale := e.status == statusProcessing && e.processingStartedAt.Before(now.Add(-staleAfter))
		if !ready && !stale {
			continue
		}
		e.status = statusProcessing
		e.processingStartedAt = now
		e.msg.Attempts++
		claimed = append(claimed, e.msg)
	}
	return claimed, nil
}

func (o *MemoryOutbox) MarkPublished(_ context.Context, id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e := o.find(id); e != nil {
		e.status = statusPublished
		e.publishedAt = o.now()
		e.lastError = ""
	}
	return nil
}

func (o *MemoryOutbox) MarkFailed(_ context.Context, id int64, retryAfter time.Duration, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e := o.find(id); e != nil {
		if len(reason) > maxErrorLength {
			reason = reason[:maxErrorLength]
		}
		e.status = statusPending
		e.nextAttemptAt = o.now().Add(retryAfter)
		e.processingStartedAt = time.Time{}
		e.lastError = reason
	}
	return nil
}

func (o *MemoryOutbox) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cutoff := o.now().Add(-olderThan)
	kept := o.entries[:0]
	var removed int64
	for _, e := range o.entries {
		if e.status == statusPublished && e.publishedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	o.entries = kept
	return removed, nil
}

// Pending returns the messages not yet published, in enqueue order.
func (o *MemoryOutbox) Pending() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Message
	for _, e := range o.entries {
		if e.status != statusPublished {
			out = append(out, e.msg)
		}
	}
	return out
}

// Published returns the messages handed to the broker, in enqueue order.
func (o *MemoryOutbox) Published() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Message
	for _, e := range o.entries {
		if e.status == statusPublished {
			out = append(out, e.msg)
		}
	}
	return out
}

func (o *MemoryOutbox) find(id int64) *outboxEntry {
	for _, e := range o.entries {
		if e.msg.ID == id {
			return e
		}
	}
	return nil
}

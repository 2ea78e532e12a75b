package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const pruneTimeout = time.Minute

// Pruner removes published outbox rows once they are past retention.
type Pruner struct {
	outbox    Outbox
	retention time.Duration
	logger    *slog.Logger
}

// NewPruner builds a pruner for outbox.
func NewPruner(outbox Outbox, retention time.Duration, logger *slog.Logger) *Pruner {
	return &Pruner{outbox: outbox, retention: retention, logger: logger}
}

// Schedule registers the prune job on c using a standard five-field cron spec.
func (p *Pruner) Schedule(c *cron.Cron, spec string) error {
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Error("outbox prune failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule outbox prune %q: %w", spec, err)
	}
	return nil
}

// Prune deletes published rows older than the retention window.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	removed, err := p.outbox.Prune(ctx, p.retention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		p.logger.Info("outbox pruned", slog.Int64("removed", removed), slog.Duration("retention", p.retention))
	}
	return removed, nil
}

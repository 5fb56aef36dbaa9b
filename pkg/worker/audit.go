package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/consult-lifecycle/internal/repository"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
)

// AuditCleanupWorker prunes audit rows and delivered outbox rows older than
// the retention window.
type AuditCleanupWorker struct {
	audit           repository.AuditRepository
	outbox          repository.OutboxRepository
	retention       time.Duration
	cleanupInterval time.Duration
	logger          *logger.Logger
	now             func() time.Time
}

func NewAuditCleanupWorker(audit repository.AuditRepository, outbox repository.OutboxRepository, retention, cleanupInterval time.Duration, log *logger.Logger) *AuditCleanupWorker {
	return &AuditCleanupWorker{
		audit:           audit,
		outbox:          outbox,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		logger:          log,
		now:             time.Now,
	}
}

func (w *AuditCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cleanup(ctx); err != nil {
				w.logger.Error(err, "Error cleaning up audit logs")
			}
		}
	}
}

func (w *AuditCleanupWorker) cleanup(ctx context.Context) error {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.audit.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	events, err := w.outbox.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup outbox: %w", err)
	}

	w.logger.Info("Cleaned up retained rows",
		"audit_logs", rows,
		"outbox_events", events,
		"cutoff", cutoff.Format(time.RFC3339))
	return nil
}

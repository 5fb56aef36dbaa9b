package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

const auditColumns = `id, event_id, event_type, case_id, appointment_id, actor_role, actor_id,
	from_status, to_status, reason, payload, occurred_at, created_at`

type auditRepository struct {
	ex sqlx.ExtContext
}

func NewAuditRepository(db *sqlx.DB) repository.AuditRepository {
	return &auditRepository{ex: db}
}

// Create inserts the log row. Redelivered events with an already recorded
// event_id are ignored.
func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := r.ex.ExecContext(ctx, query,
		log.ID,
		log.EventID,
		log.EventType,
		log.CaseID,
		log.AppointmentID,
		log.ActorRole,
		log.ActorID,
		log.FromStatus,
		log.ToStatus,
		log.Reason,
		[]byte(log.Payload),
		log.OccurredAt,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*model.AuditLog, error) {
	var logs []*model.AuditLog
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE case_id = $1 ORDER BY occurred_at ASC`
	if err := sqlx.SelectContext(ctx, r.ex, &logs, query, caseID); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (r *auditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.ex.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	return res.RowsAffected()
}

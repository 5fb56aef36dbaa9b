package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

const rescheduleColumns = `id, appointment_id, case_id, requested_by_role, requested_by_id, status,
	preferred_times, reason, chosen_time, resolved_by_id, resolved_at, created_at, updated_at`

type rescheduleRepository struct {
	ex sqlx.ExtContext
}

func NewRescheduleRepository(db *sqlx.DB) repository.RescheduleRepository {
	return &rescheduleRepository{ex: db}
}

func (r *rescheduleRepository) Create(ctx context.Context, req *model.RescheduleRequest) error {
	query := `
		INSERT INTO reschedule_requests (` + rescheduleColumns + `)
		VALUES (:id, :appointment_id, :case_id, :requested_by_role, :requested_by_id, :status,
			:preferred_times, :reason, :chosen_time, :resolved_by_id, :resolved_at, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, r.ex, query, req); err != nil {
		return fmt.Errorf("failed to create reschedule request: %w", err)
	}
	return nil
}

func (r *rescheduleRepository) Get(ctx context.Context, id uuid.UUID) (*model.RescheduleRequest, error) {
	var req model.RescheduleRequest
	query := `SELECT ` + rescheduleColumns + ` FROM reschedule_requests WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ex, &req, query, id); err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (r *rescheduleRepository) Update(ctx context.Context, req *model.RescheduleRequest) error {
	query := `
		UPDATE reschedule_requests
		SET status = $1, chosen_time = $2, resolved_by_id = $3, resolved_at = $4, updated_at = $5
		WHERE id = $6`

	res, err := r.ex.ExecContext(ctx, query,
		req.Status,
		req.ChosenTime,
		req.ResolvedByID,
		req.ResolvedAt,
		req.UpdatedAt,
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reschedule request: %w", err)
	}
	return expectOneRow(res, repository.ErrNotFound)
}

func (r *rescheduleRepository) GetPendingByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.RescheduleRequest, error) {
	var req model.RescheduleRequest
	query := `SELECT ` + rescheduleColumns + ` FROM reschedule_requests WHERE appointment_id = $1 AND status = $2`
	if err := sqlx.GetContext(ctx, r.ex, &req, query, appointmentID, model.RescheduleStatusPending); err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (r *rescheduleRepository) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*model.RescheduleRequest, error) {
	var reqs []*model.RescheduleRequest
	query := `SELECT ` + rescheduleColumns + ` FROM reschedule_requests WHERE case_id = $1 ORDER BY created_at ASC`
	if err := sqlx.SelectContext(ctx, r.ex, &reqs, query, caseID); err != nil {
		return nil, fmt.Errorf("failed to list reschedule requests: %w", err)
	}
	return reqs, nil
}

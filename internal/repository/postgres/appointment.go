package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

const appointmentColumns = `id, case_id, status, scheduled_time, duration_minutes, consultation_type,
	consultation_fee, currency, reschedule_count, supersedes_id, created_at, updated_at`

type appointmentRepository struct {
	ex sqlx.ExtContext
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{ex: db}
}

func (r *appointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		VALUES (:id, :case_id, :status, :scheduled_time, :duration_minutes, :consultation_type,
			:consultation_fee, :currency, :reschedule_count, :supersedes_id, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, r.ex, query, a); err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var a model.Appointment
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ex, &a, query, id); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *appointmentRepository) Update(ctx context.Context, a *model.Appointment) error {
	query := `UPDATE appointments SET status = $1, updated_at = $2 WHERE id = $3`

	res, err := r.ex.ExecContext(ctx, query, a.Status, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return expectOneRow(res, repository.ErrNotFound)
}

func (r *appointmentRepository) GetActiveByCase(ctx context.Context, caseID uuid.UUID) (*model.Appointment, error) {
	var a model.Appointment
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE case_id = $1 AND status <> $2
		ORDER BY reschedule_count DESC, created_at DESC
		LIMIT 1`
	if err := sqlx.GetContext(ctx, r.ex, &a, query, caseID, model.AppointmentStatusRescheduled); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *appointmentRepository) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*model.Appointment, error) {
	var appts []*model.Appointment
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE case_id = $1 ORDER BY reschedule_count ASC, created_at ASC`
	if err := sqlx.SelectContext(ctx, r.ex, &appts, query, caseID); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appts, nil
}

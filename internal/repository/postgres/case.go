package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

const caseColumns = `id, status, title, description, urgency_level, complexity, required_specialization,
	owner_patient_id, assigned_doctor_id, dependent_id, status_changed_at, version, created_at, updated_at`

type caseRepository struct {
	ex sqlx.ExtContext
}

func NewCaseRepository(db *sqlx.DB) repository.CaseRepository {
	return &caseRepository{ex: db}
}

func (r *caseRepository) Create(ctx context.Context, c *model.Case) error {
	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES (:id, :status, :title, :description, :urgency_level, :complexity, :required_specialization,
			:owner_patient_id, :assigned_doctor_id, :dependent_id, :status_changed_at, :version, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, r.ex, query, c); err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (r *caseRepository) Get(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	var c model.Case
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ex, &c, query, id); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *caseRepository) Update(ctx context.Context, c *model.Case, expectedVersion int64) error {
	query := `
		UPDATE cases
		SET status = $1, assigned_doctor_id = $2, status_changed_at = $3, updated_at = $4, version = $5
		WHERE id = $6 AND version = $7`

	res, err := r.ex.ExecContext(ctx, query,
		c.Status,
		c.AssignedDoctorID,
		c.StatusChangedAt,
		c.UpdatedAt,
		c.Version,
		c.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	return expectOneRow(res, repository.ErrVersionConflict)
}

func (r *caseRepository) List(ctx context.Context, filter model.CaseFilter) ([]*model.Case, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.PatientID != nil {
		add("owner_patient_id = $%d", *filter.PatientID)
	}
	if filter.DoctorID != nil {
		add("assigned_doctor_id = $%d", *filter.DoctorID)
	}

	query := `SELECT ` + caseColumns + ` FROM cases`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var cases []*model.Case
	if err := sqlx.SelectContext(ctx, r.ex, &cases, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	return cases, nil
}

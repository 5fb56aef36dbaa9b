package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

const settlementColumns = `id, appointment_id, case_id, method, amount, currency, coupon_code,
	transaction_ref, settled_by_id, settled_at`

type settlementRepository struct {
	ex sqlx.ExtContext
}

func NewSettlementRepository(db *sqlx.DB) repository.SettlementRepository {
	return &settlementRepository{ex: db}
}

func (r *settlementRepository) Create(ctx context.Context, s *model.PaymentSettlement) error {
	query := `
		INSERT INTO payment_settlements (` + settlementColumns + `)
		VALUES (:id, :appointment_id, :case_id, :method, :amount, :currency, :coupon_code,
			:transaction_ref, :settled_by_id, :settled_at)`

	if _, err := sqlx.NamedExecContext(ctx, r.ex, query, s); err != nil {
		return fmt.Errorf("failed to create payment settlement: %w", err)
	}
	return nil
}

func (r *settlementRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.PaymentSettlement, error) {
	var s model.PaymentSettlement
	query := `SELECT ` + settlementColumns + ` FROM payment_settlements WHERE appointment_id = $1`
	if err := sqlx.GetContext(ctx, r.ex, &s, query, appointmentID); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

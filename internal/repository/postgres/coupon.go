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

const couponColumns = `code, patient_id, value, status, expires_at, redeemed_at, redeemed_appointment_id, created_at`

type couponRepository struct {
	ex sqlx.ExtContext
}

func NewCouponRepository(db *sqlx.DB) repository.CouponRepository {
	return &couponRepository{ex: db}
}

func (r *couponRepository) Create(ctx context.Context, c *model.Coupon) error {
	query := `
		INSERT INTO coupons (` + couponColumns + `)
		VALUES (:code, :patient_id, :value, :status, :expires_at, :redeemed_at, :redeemed_appointment_id, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, r.ex, query, c); err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

// Lookup reads the coupon row under FOR UPDATE so that, inside a
// transaction, the subsequent redemption sees the same state.
func (r *couponRepository) Lookup(ctx context.Context, code string, patientID uuid.UUID) (*model.Coupon, error) {
	var c model.Coupon
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 AND patient_id = $2 FOR UPDATE`
	if err := sqlx.GetContext(ctx, r.ex, &c, query, code, patientID); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *couponRepository) MarkRedeemed(ctx context.Context, code string, appointmentID uuid.UUID, at time.Time) error {
	query := `
		UPDATE coupons
		SET status = $1, redeemed_at = $2, redeemed_appointment_id = $3
		WHERE code = $4 AND status = $5`

	res, err := r.ex.ExecContext(ctx, query,
		model.CouponStatusRedeemed,
		at,
		appointmentID,
		code,
		model.CouponStatusAvailable,
	)
	if err != nil {
		return fmt.Errorf("failed to redeem coupon: %w", err)
	}
	return expectOneRow(res, repository.ErrCouponUnavailable)
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a versioned update finds the row
	// at a different version than expected.
	ErrVersionConflict = errors.New("version conflict")
	// ErrCouponUnavailable is returned when a coupon is no longer AVAILABLE
	// at the moment it is marked redeemed.
	ErrCouponUnavailable = errors.New("coupon unavailable")
)

type CaseRepository interface {
	Create(ctx context.Context, c *model.Case) error
	Get(ctx context.Context, id uuid.UUID) (*model.Case, error)
	// Update persists c if the stored version equals expectedVersion and
	// stores c.Version as the new version.
	Update(ctx context.Context, c *model.Case, expectedVersion int64) error
	List(ctx context.Context, filter model.CaseFilter) ([]*model.Case, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *model.Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Update(ctx context.Context, a *model.Appointment) error
	// GetActiveByCase returns the latest non-superseded appointment.
	GetActiveByCase(ctx context.Context, caseID uuid.UUID) (*model.Appointment, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*model.Appointment, error)
}

type RescheduleRepository interface {
	Create(ctx context.Context, r *model.RescheduleRequest) error
	Get(ctx context.Context, id uuid.UUID) (*model.RescheduleRequest, error)
	Update(ctx context.Context, r *model.RescheduleRequest) error
	GetPendingByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.RescheduleRequest, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*model.RescheduleRequest, error)
}

type SettlementRepository interface {
	Create(ctx context.Context, s *model.PaymentSettlement) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*model.PaymentSettlement, error)
}

// CouponRepository is the coupon ledger.
type CouponRepository interface {
	Create(ctx context.Context, c *model.Coupon) error
	Lookup(ctx context.Context, code string, patientID uuid.UUID) (*model.Coupon, error)
	// MarkRedeemed flips an AVAILABLE coupon to REDEEMED or returns
	// ErrCouponUnavailable.
	MarkRedeemed(ctx context.Context, code string, appointmentID uuid.UUID, at time.Time) error
}

type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	// ClaimPending moves up to limit due PENDING rows to PROCESSING and
	// returns them.
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]*model.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records a failed delivery. A nil retryAt parks the row as
	// FAILED; otherwise it returns to PENDING until retryAt.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type AuditRepository interface {
	Create(ctx context.Context, log *model.AuditLog) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*model.AuditLog, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Repositories groups the lifecycle repositories bound to one connection or
// transaction.
type Repositories interface {
	Cases() CaseRepository
	Appointments() AppointmentRepository
	Reschedules() RescheduleRepository
	Settlements() SettlementRepository
	Coupons() CouponRepository
	Outbox() OutboxRepository
}

// Store is the lifecycle persistence boundary.
type Store interface {
	Repositories
	// WithTx runs fn inside one transaction. Writes made through the
	// Repositories passed to fn commit together or not at all.
	WithTx(ctx context.Context, fn func(Repositories) error) error
	Ping(ctx context.Context) error
}

// Package settlement resolves an appointment awaiting payment by exactly one
// of a card or wallet charge or a coupon redemption.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
	"github.com/jwalitptl/consult-lifecycle/pkg/lock"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/metrics"
	"github.com/jwalitptl/consult-lifecycle/pkg/payment"
)

type Config struct {
	// ChargeTimeout bounds one call to the payment processor.
	ChargeTimeout time.Duration
	// LeaseTTL is the lifetime of coupon and settlement leases.
	LeaseTTL time.Duration
}

type Coordinator struct {
	processor payment.Processor
	locker    lock.Locker
	cfg       Config
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewCoordinator(processor payment.Processor, locker lock.Locker, cfg Config, log *logger.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = 10 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	return &Coordinator{
		processor: processor,
		locker:    locker,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Plan is a validated settlement request bound to one appointment.
type Plan struct {
	AppointmentID  uuid.UUID
	CaseID         uuid.UUID
	OwnerPatientID uuid.UUID
	Method         model.PaymentMethod
	Token          string
	CouponCode     string
	Fee            model.Money
	Currency       string
}

// settled statuses answer a repeated settlement with DuplicateSettlement.
func settled(s model.AppointmentStatus) bool {
	switch s {
	case model.AppointmentStatusConfirmed, model.AppointmentStatusInProgress, model.AppointmentStatusCompleted:
		return true
	}
	return false
}

// Prepare checks the appointment state and the request shape. existing is the
// settlement already recorded for the appointment, if any. No ledger or
// processor is touched.
func (c *Coordinator) Prepare(appt *model.Appointment, existing *model.PaymentSettlement, ownerPatientID uuid.UUID, req *model.SettlementRequest) (*Plan, error) {
	if existing != nil || settled(appt.Status) {
		return nil, apperrors.Newf(apperrors.KindDuplicateSettlement, "appointment %s is already settled", appt.ID)
	}
	if appt.Status != model.AppointmentStatusPaymentPending && appt.Status != model.AppointmentStatusScheduled {
		return nil, apperrors.InvalidTransition(string(appt.Status), string(model.AppointmentStatusConfirmed))
	}
	if req == nil {
		return nil, apperrors.New(apperrors.KindInvalidMethod, "settlement details are required")
	}

	plan := &Plan{
		AppointmentID:  appt.ID,
		CaseID:         appt.CaseID,
		OwnerPatientID: ownerPatientID,
		Fee:            appt.ConsultationFee,
		Currency:       appt.Currency,
	}

	switch {
	case req.CouponCode != "":
		if req.PaymentMethod != "" && req.PaymentMethod != model.PaymentMethodCoupon {
			return nil, apperrors.New(apperrors.KindInvalidMethod, "a coupon cannot be combined with a payment method")
		}
		if req.MethodToken != "" {
			return nil, apperrors.New(apperrors.KindInvalidMethod, "a coupon cannot be combined with a payment token")
		}
		plan.Method = model.PaymentMethodCoupon
		plan.CouponCode = req.CouponCode
	case req.PaymentMethod == model.PaymentMethodCard || req.PaymentMethod == model.PaymentMethodWallet:
		if req.MethodToken == "" {
			return nil, apperrors.Newf(apperrors.KindInvalidMethod, "%s settlement requires a method token", req.PaymentMethod)
		}
		if req.Amount != appt.ConsultationFee {
			return nil, apperrors.Newf(apperrors.KindAmountMismatch,
				"amount %d does not match the consultation fee %d", req.Amount, appt.ConsultationFee)
		}
		plan.Method = req.PaymentMethod
		plan.Token = req.MethodToken
	default:
		return nil, apperrors.New(apperrors.KindInvalidMethod, "exactly one of a payment method or a coupon code is required")
	}
	return plan, nil
}

// LockCoupon takes the coupon-code lease. A held lease means another
// settlement is redeeming the same code.
func (c *Coordinator) LockCoupon(ctx context.Context, code string) (lock.Lease, error) {
	return c.lease(ctx, "coupon", "coupon:"+code)
}

// LockAppointment takes the lease that keeps two charges for one
// appointment from running at once.
func (c *Coordinator) LockAppointment(ctx context.Context, appointmentID uuid.UUID) (lock.Lease, error) {
	return c.lease(ctx, "settlement", "settle:"+appointmentID.String())
}

func (c *Coordinator) lease(ctx context.Context, scope, key string) (lock.Lease, error) {
	l, err := c.locker.TryLock(ctx, key, c.cfg.LeaseTTL)
	if errors.Is(err, lock.ErrLocked) {
		c.metrics.LockContention.WithLabelValues(scope).Inc()
		return nil, apperrors.ConcurrentModification(fmt.Sprintf("%s is being settled by another request", key), err)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return l, nil
}

// Redeem validates the coupon against the plan and marks it redeemed. It must
// run inside the transaction that confirms the appointment.
func (c *Coordinator) Redeem(ctx context.Context, ledger repository.CouponRepository, plan *Plan, settledBy uuid.UUID) (*model.PaymentSettlement, error) {
	now := c.now()
	coupon, err := ledger.Lookup(ctx, plan.CouponCode, plan.OwnerPatientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.KindCouponNotRedeemable, "coupon %s is not available to this patient", plan.CouponCode)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup coupon: %w", err)
	}

	switch {
	case coupon.ExpiredAt(now):
		return nil, apperrors.Newf(apperrors.KindCouponExpired, "coupon %s has expired", plan.CouponCode)
	case coupon.Status != model.CouponStatusAvailable:
		return nil, apperrors.Newf(apperrors.KindCouponNotRedeemable, "coupon %s is %s", plan.CouponCode, coupon.Status)
	case coupon.Value < plan.Fee:
		return nil, apperrors.Newf(apperrors.KindCouponNotRedeemable,
			"coupon %s covers %d of a %d fee; partial redemption is not supported", plan.CouponCode, coupon.Value, plan.Fee)
	}

	if err := ledger.MarkRedeemed(ctx, plan.CouponCode, plan.AppointmentID, now); err != nil {
		if errors.Is(err, repository.ErrCouponUnavailable) {
			return nil, apperrors.Newf(apperrors.KindCouponNotRedeemable, "coupon %s was redeemed concurrently", plan.CouponCode)
		}
		return nil, fmt.Errorf("redeem coupon: %w", err)
	}

	code := plan.CouponCode
	return &model.PaymentSettlement{
		ID:            uuid.New(),
		AppointmentID: plan.AppointmentID,
		CaseID:        plan.CaseID,
		Method:        model.PaymentMethodCoupon,
		Amount:        plan.Fee,
		Currency:      plan.Currency,
		CouponCode:    &code,
		SettledByID:   settledBy,
		SettledAt:     now,
	}, nil
}

// Charge calls the payment processor for a card or wallet plan. Neither
// outcome changes lifecycle state; the caller commits on success.
func (c *Coordinator) Charge(ctx context.Context, plan *Plan, settledBy uuid.UUID, idempotencyKey string) (*model.PaymentSettlement, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChargeTimeout)
	defer cancel()

	if idempotencyKey == "" {
		idempotencyKey = "settle-" + plan.AppointmentID.String()
	}

	start := time.Now()
	res, err := c.processor.Charge(ctx, payment.ChargeRequest{
		IdempotencyKey: idempotencyKey,
		AppointmentID:  plan.AppointmentID,
		Method:         string(plan.Method),
		Token:          plan.Token,
		Amount:         int64(plan.Fee),
		Currency:       plan.Currency,
	})
	c.metrics.PaymentLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, payment.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("payment processor timed out", "appointment_id", plan.AppointmentID.String())
			return nil, apperrors.SettlementTimeout(err)
		}
		c.logger.Warn("payment charge failed", "appointment_id", plan.AppointmentID.String(), "error", err.Error())
		return nil, apperrors.SettlementFailed(err)
	}

	ref := res.TransactionRef
	return &model.PaymentSettlement{
		ID:             uuid.New(),
		AppointmentID:  plan.AppointmentID,
		CaseID:         plan.CaseID,
		Method:         plan.Method,
		Amount:         plan.Fee,
		Currency:       plan.Currency,
		TransactionRef: &ref,
		SettledByID:    settledBy,
		SettledAt:      c.now(),
	}, nil
}

// Refund reverses a charge whose result could not be committed. Failures are
// logged; the processor's idempotency key makes a manual retry safe.
func (c *Coordinator) Refund(ctx context.Context, s *model.PaymentSettlement) {
	if s == nil || s.TransactionRef == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ChargeTimeout)
	defer cancel()
	if err := c.processor.Refund(ctx, *s.TransactionRef); err != nil {
		c.logger.Error(err, "refund after failed commit did not go through",
			"appointment_id", s.AppointmentID.String(),
			"transaction_ref", *s.TransactionRef)
		return
	}
	c.logger.Info("refunded uncommitted charge", "transaction_ref", *s.TransactionRef)
}

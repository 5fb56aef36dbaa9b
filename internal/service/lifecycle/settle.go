package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
	"github.com/jwalitptl/consult-lifecycle/internal/service/settlement"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
)

// settle confirms the active appointment by a coupon redemption or a
// processor charge. The case lease is not held while the processor is
// called; the settlement lease on the appointment keeps a second charge out,
// and the case version is checked again before committing.
func (s *Service) settle(ctx context.Context, h *held, ch *change, req *model.SettlementRequest) (res *Result, err error) {
	if ch.active == nil {
		return nil, apperrors.Newf(apperrors.KindInvalidTransition, "case %s has no active appointment", ch.prev.ID)
	}

	method := "unknown"
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperrors.KindOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		s.metrics.Settlements.WithLabelValues(method, outcome).Inc()
	}()

	existing, err := s.store.Settlements().GetByAppointment(ctx, ch.active.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load settlement: %w", err)
	}
	plan, err := s.settlements.Prepare(ch.active, existing, ch.prev.OwnerPatientID, req)
	if err != nil {
		return nil, err
	}
	method = string(plan.Method)

	// A case still at SCHEDULED enters PAYMENT_PENDING on the system's
	// behalf before the appointment is confirmed.
	if ch.prev.Status == model.CaseStatusScheduled {
		ch.moveCase(model.SystemActor, model.CaseStatusPaymentPending)
	}
	if ch.active.Status == model.AppointmentStatusScheduled {
		ch.moveAppointment(model.SystemActor, model.AppointmentStatusPaymentPending)
	}
	ch.moveAppointment(ch.actor, model.AppointmentStatusConfirmed)

	if plan.Method == model.PaymentMethodCoupon {
		return s.redeemCoupon(ctx, ch, plan)
	}
	return s.charge(ctx, h, ch, plan)
}

func (s *Service) redeemCoupon(ctx context.Context, ch *change, plan *settlement.Plan) (*Result, error) {
	lease, err := s.settlements.LockCoupon(ctx, plan.CouponCode)
	if err != nil {
		return nil, err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	return s.commit(ctx, ch, func(ctx context.Context, r repository.Repositories) (*model.PaymentSettlement, error) {
		return s.settlements.Redeem(ctx, r.Coupons(), plan, ch.actor.ID)
	})
}

func (s *Service) charge(ctx context.Context, h *held, ch *change, plan *settlement.Plan) (*Result, error) {
	lease, err := s.settlements.LockAppointment(ctx, plan.AppointmentID)
	if err != nil {
		return nil, err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	h.release(ctx)

	st, err := s.settlements.Charge(ctx, plan, ch.actor.ID, chargeKey(plan, ch.prev.Version))
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	caseLease, err := s.locker.Lock(waitCtx, caseKey(ch.prev.ID), s.cfg.LockTTL)
	cancel()
	if err != nil {
		s.settlements.Refund(ctx, st)
		return nil, apperrors.ConcurrentModification(fmt.Sprintf("case %s stayed busy after the charge", ch.prev.ID), err)
	}
	h.lease = caseLease

	current, err := s.store.Cases().Get(ctx, ch.prev.ID)
	if err != nil {
		s.settlements.Refund(ctx, st)
		return nil, fmt.Errorf("reload case: %w", err)
	}
	if current.Version != ch.prev.Version {
		s.settlements.Refund(ctx, st)
		return nil, apperrors.ConcurrentModification(
			fmt.Sprintf("case %s changed while the payment was processed", ch.prev.ID), nil)
	}

	ch.settled(st)
	res, err := s.commit(ctx, ch, nil)
	if err != nil {
		s.settlements.Refund(ctx, st)
		return nil, err
	}
	return res, nil
}

// chargeKey scopes the processor idempotency key to the case version the
// plan was made against. A timed-out attempt commits nothing and retries with
// the same key; an attempt refunded after a concurrent change gets a new one.
func chargeKey(plan *settlement.Plan, version int64) string {
	return fmt.Sprintf("settle-%s-v%d", plan.AppointmentID, version)
}

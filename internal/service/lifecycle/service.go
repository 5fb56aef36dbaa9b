// Package lifecycle drives cases and their appointments through the
// consultation lifecycle. Every mutating call is serialized per case,
// checked against the status graphs and the permission matrix, and committed
// together with its domain events in one transaction.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
	"github.com/jwalitptl/consult-lifecycle/internal/service/permission"
	"github.com/jwalitptl/consult-lifecycle/internal/service/reschedule"
	"github.com/jwalitptl/consult-lifecycle/internal/service/settlement"
	"github.com/jwalitptl/consult-lifecycle/internal/service/status"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
	"github.com/jwalitptl/consult-lifecycle/pkg/lock"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/metrics"
	"github.com/jwalitptl/consult-lifecycle/pkg/validator"
)

type Config struct {
	// LockTTL is the lifetime of the per-case lease.
	LockTTL time.Duration
	// LockWait bounds how long a settlement waits to re-enter the case
	// after the processor answered.
	LockWait time.Duration
	// DefaultCurrency applies to appointments scheduled without one.
	DefaultCurrency string
}

// Result is the state after a committed transition.
type Result struct {
	Case        *model.Case        `json:"case"`
	Appointment *model.Appointment `json:"appointment,omitempty"`
	// Replaced is the appointment superseded by an approved reschedule.
	Replaced   *model.Appointment       `json:"replaced,omitempty"`
	Reschedule *model.RescheduleRequest `json:"reschedule,omitempty"`
	Settlement *model.PaymentSettlement `json:"settlement,omitempty"`
	Events     []model.DomainEvent      `json:"events"`
	// InProgressEligible is set once payment is settled and the consultation
	// may start.
	InProgressEligible bool `json:"in_progress_eligible"`
}

type Service struct {
	store       repository.Store
	locker      lock.Locker
	matrix      *permission.Matrix
	settlements *settlement.Coordinator
	reschedules *reschedule.Protocol
	validator   validator.Validator
	cfg         Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(
	store repository.Store,
	locker lock.Locker,
	matrix *permission.Matrix,
	settlements *settlement.Coordinator,
	reschedules *reschedule.Protocol,
	v validator.Validator,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &Service{
		store:       store,
		locker:      locker,
		matrix:      matrix,
		settlements: settlements,
		reschedules: reschedules,
		validator:   v,
		cfg:         cfg,
		logger:      log,
		metrics:     m,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Transition applies intent to the case on behalf of actor.
func (s *Service) Transition(ctx context.Context, caseID uuid.UUID, actor model.Actor, intent model.Intent, p *model.Payload) (res *Result, err error) {
	start := time.Now()
	defer func() {
		s.observe(intent, start, err)
	}()

	if p == nil {
		p = &model.Payload{}
	}
	if !knownIntent(intent) {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("unknown intent %q", intent))
	}

	h, err := s.enter(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer h.release(ctx)

	c, appt, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if p.ExpectedVersion != 0 && p.ExpectedVersion != c.Version {
		return nil, apperrors.ConcurrentModification(
			fmt.Sprintf("case %s is at version %d, not %d", c.ID, c.Version, p.ExpectedVersion), nil)
	}
	if err := s.guard(c, appt, actor, intent, p); err != nil {
		return nil, err
	}

	ch := newChange(c, appt, actor, strings.TrimSpace(p.Reason), s.now().UTC())

	switch intent {
	case model.IntentTriage, model.IntentAccept:
		to, _ := permission.CaseTarget(intent)
		ch.moveCase(actor, to)
	case model.IntentAssign:
		if p.DoctorID == nil || *p.DoctorID == uuid.Nil {
			return nil, apperrors.InvalidRequest("doctor_id is required")
		}
		ch.moveCase(actor, model.CaseStatusAssigned)
		doctor := *p.DoctorID
		ch.next.AssignedDoctorID = &doctor
		ch.events[len(ch.events)-1].Data = model.JSONMap{"doctor_id": doctor.String()}
	case model.IntentReject:
		ch.moveCase(actor, model.CaseStatusRejected)
		ch.next.AssignedDoctorID = nil
	case model.IntentSchedule:
		if err := s.schedule(ch, p.Schedule); err != nil {
			return nil, err
		}
	case model.IntentRequestPayment, model.IntentStartConsultation, model.IntentCompleteConsultation:
		to, _ := permission.CaseTarget(intent)
		ch.moveCase(actor, to)
		apptTo, _ := permission.AppointmentTarget(intent)
		ch.moveAppointment(actor, apptTo)
	case model.IntentClose:
		if err := s.close(ctx, ch); err != nil {
			return nil, err
		}
	case model.IntentCancelAppointment, model.IntentMarkNoShow:
		to, _ := permission.AppointmentTarget(intent)
		ch.moveAppointment(actor, to)
		if err := s.dropPending(ctx, ch, ch.active.ID); err != nil {
			return nil, err
		}
	case model.IntentSettle:
		return s.settle(ctx, h, ch, p.Settlement)
	case model.IntentRequestReschedule:
		if err := s.requestReschedule(ctx, ch, p.Reschedule); err != nil {
			return nil, err
		}
	case model.IntentRespondReschedule:
		if err := s.respondReschedule(ctx, ch, p); err != nil {
			return nil, err
		}
	case model.IntentCancelReschedule:
		if err := s.cancelReschedule(ctx, ch, p.RequestID); err != nil {
			return nil, err
		}
	}

	return s.commit(ctx, ch, nil)
}

func knownIntent(intent model.Intent) bool {
	for _, i := range model.Intents {
		if i == intent {
			return true
		}
	}
	return false
}

// appointmentIntent reports whether intent moves the active appointment
// along its own graph.
func appointmentIntent(intent model.Intent) bool {
	switch intent {
	case model.IntentRequestPayment, model.IntentStartConsultation, model.IntentCompleteConsultation,
		model.IntentCancelAppointment, model.IntentMarkNoShow:
		return true
	}
	return false
}

// guard runs the graph check, then the permission check, then the reason
// check. Graph violations are reported identically to every actor.
func (s *Service) guard(c *model.Case, appt *model.Appointment, actor model.Actor, intent model.Intent, p *model.Payload) error {
	if to, ok := permission.CaseTarget(intent); ok {
		if err := status.Cases.Validate(c.Status, to); err != nil {
			return err
		}
	}
	if appointmentIntent(intent) {
		to, _ := permission.AppointmentTarget(intent)
		if appt == nil {
			return apperrors.Newf(apperrors.KindInvalidTransition, "case %s has no active appointment", c.ID)
		}
		if err := status.Appointments.Validate(appt.Status, to); err != nil {
			return err
		}
	}

	d := s.matrix.Authorize(actor, c, intent)
	if err := d.Err(); err != nil {
		return err
	}
	if d.RequiresReason && strings.TrimSpace(p.Reason) == "" {
		return apperrors.InvalidRequest(fmt.Sprintf("%s from %s requires a reason", intent, c.Status))
	}
	return nil
}

func (s *Service) schedule(ch *change, d *model.ScheduleDetails) error {
	if ch.active != nil {
		return apperrors.Newf(apperrors.KindInvalidTransition, "case %s already has appointment %s", ch.prev.ID, ch.active.ID)
	}
	if d == nil {
		return apperrors.InvalidRequest("schedule details are required")
	}
	if err := s.validator.Validate(d); err != nil {
		return apperrors.InvalidRequest(err.Error())
	}
	if !d.ScheduledTime.After(ch.now) {
		return apperrors.InvalidRequest("scheduled_time must be in the future")
	}
	currency := strings.ToUpper(d.Currency)
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	ch.moveCase(ch.actor, model.CaseStatusScheduled)
	ch.createAppointment(ch.actor, &model.Appointment{
		Base:             model.Base{ID: uuid.New(), CreatedAt: ch.now, UpdatedAt: ch.now},
		CaseID:           ch.prev.ID,
		Status:           model.AppointmentStatusScheduled,
		ScheduledTime:    d.ScheduledTime.UTC(),
		DurationMinutes:  d.DurationMinutes,
		ConsultationType: d.ConsultationType,
		ConsultationFee:  d.Fee,
		Currency:         currency,
	})
	return nil
}

// close moves the case to CLOSED. An administrative close also cancels an
// appointment that is still open.
func (s *Service) close(ctx context.Context, ch *change) error {
	override := status.Cases.IsOverride(ch.prev.Status, model.CaseStatusClosed)
	ch.moveCase(ch.actor, model.CaseStatusClosed)
	if !override || ch.active == nil {
		return nil
	}
	if status.Appointments.Allows(ch.active.Status, model.AppointmentStatusCancelled) {
		ch.moveAppointment(ch.actor, model.AppointmentStatusCancelled)
		return s.dropPending(ctx, ch, ch.active.ID)
	}
	return nil
}

// dropPending rejects the pending reschedule request of an appointment that
// can no longer be rescheduled.
func (s *Service) dropPending(ctx context.Context, ch *change, appointmentID uuid.UUID) error {
	pending, err := s.pending(ctx, appointmentID)
	if err != nil || pending == nil {
		return err
	}
	now, by := ch.now, ch.actor.ID
	resolved := pending.Clone()
	resolved.Status = model.RescheduleStatusRejected
	resolved.ResolvedByID = &by
	resolved.ResolvedAt = &now
	resolved.UpdatedAt = ch.now
	ch.reqUpdates = append(ch.reqUpdates, resolved)
	ch.rescheduleEvent(ch.actor, model.EventRescheduleRejected, resolved, string(pending.Status),
		model.JSONMap{"appointment_closed": true})
	return nil
}

// enter takes the case lease without waiting.
func (s *Service) enter(ctx context.Context, caseID uuid.UUID) (*held, error) {
	l, err := s.locker.TryLock(ctx, caseKey(caseID), s.cfg.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		s.metrics.LockContention.WithLabelValues("case").Inc()
		return nil, apperrors.ConcurrentModification(fmt.Sprintf("case %s is being modified", caseID), err)
	}
	if err != nil {
		return nil, fmt.Errorf("lock case %s: %w", caseID, err)
	}
	return &held{lease: l}, nil
}

func caseKey(id uuid.UUID) string {
	return "case:" + id.String()
}

// held is the case lease, which the settlement path drops and re-takes.
type held struct {
	lease lock.Lease
}

func (h *held) release(ctx context.Context) {
	if h.lease == nil {
		return
	}
	_ = h.lease.Release(context.WithoutCancel(ctx))
	h.lease = nil
}

func (s *Service) load(ctx context.Context, caseID uuid.UUID) (*model.Case, *model.Appointment, error) {
	c, err := s.store.Cases().Get(ctx, caseID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, apperrors.NotFound("case", err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load case: %w", err)
	}
	appt, err := s.store.Appointments().GetActiveByCase(ctx, caseID)
	if errors.Is(err, repository.ErrNotFound) {
		return c, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load appointment: %w", err)
	}
	return c, appt, nil
}

func (s *Service) pending(ctx context.Context, appointmentID uuid.UUID) (*model.RescheduleRequest, error) {
	r, err := s.store.Reschedules().GetPendingByAppointment(ctx, appointmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending reschedule: %w", err)
	}
	return r, nil
}

// commit writes ch in one transaction. redeem, when set, runs first inside
// the same transaction and supplies the settlement.
func (s *Service) commit(ctx context.Context, ch *change, redeem func(context.Context, repository.Repositories) (*model.PaymentSettlement, error)) (*Result, error) {
	ch.next.Version = ch.prev.Version + 1
	ch.next.UpdatedAt = ch.now
	if err := status.CheckCase(ch.next); err != nil {
		return nil, err
	}

	eventCount := len(ch.events)
	err := s.store.WithTx(ctx, func(r repository.Repositories) error {
		ch.events = ch.events[:eventCount]
		if redeem != nil {
			st, err := redeem(ctx, r)
			if err != nil {
				return err
			}
			ch.settled(st)
		}

		if err := r.Cases().Update(ctx, ch.next, ch.prev.Version); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return apperrors.ConcurrentModification(fmt.Sprintf("case %s changed during the transition", ch.prev.ID), err)
			}
			return fmt.Errorf("update case: %w", err)
		}
		for _, a := range ch.apptUpdates {
			if err := r.Appointments().Update(ctx, a); err != nil {
				return fmt.Errorf("update appointment %s: %w", a.ID, err)
			}
		}
		for _, a := range ch.apptCreates {
			if err := r.Appointments().Create(ctx, a); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
		}
		if ch.reqCreate != nil {
			if err := r.Reschedules().Create(ctx, ch.reqCreate); err != nil {
				return fmt.Errorf("create reschedule request: %w", err)
			}
		}
		for _, req := range ch.reqUpdates {
			if err := r.Reschedules().Update(ctx, req); err != nil {
				return fmt.Errorf("update reschedule request %s: %w", req.ID, err)
			}
		}
		if ch.settlement != nil {
			if err := r.Settlements().Create(ctx, ch.settlement); err != nil {
				return fmt.Errorf("record settlement: %w", err)
			}
		}
		for _, evt := range ch.events {
			row, err := model.NewOutboxEvent(evt)
			if err != nil {
				return fmt.Errorf("encode %s event: %w", evt.Type, err)
			}
			if err := r.Outbox().Create(ctx, row); err != nil {
				return fmt.Errorf("enqueue %s event: %w", evt.Type, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("case transition committed",
		"case_id", ch.next.ID.String(),
		"from", string(ch.prev.Status),
		"to", string(ch.next.Status),
		"actor_role", string(ch.actor.Role),
		"version", ch.next.Version)

	res := &Result{
		Case:        ch.next,
		Appointment: ch.active,
		Replaced:    ch.replaced,
		Settlement:  ch.settlement,
		Events:      ch.events,
	}
	if ch.reqCreate != nil {
		res.Reschedule = ch.reqCreate
	} else if len(ch.reqUpdates) > 0 {
		res.Reschedule = ch.reqUpdates[0]
	}
	res.InProgressEligible = inProgressEligible(res.Case, res.Appointment)
	return res, nil
}

func inProgressEligible(c *model.Case, appt *model.Appointment) bool {
	return c.Status == model.CaseStatusPaymentPending && appt != nil && appt.Status == model.AppointmentStatusConfirmed
}

func (s *Service) observe(intent model.Intent, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		s.logger.Debug("case transition refused", "intent", string(intent), "outcome", outcome, "error", err.Error())
	}
	s.metrics.Transitions.WithLabelValues(string(intent), outcome).Inc()
	s.metrics.TransitionLatency.WithLabelValues(string(intent)).Observe(time.Since(start).Seconds())
}

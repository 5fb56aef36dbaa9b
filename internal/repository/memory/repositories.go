package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

type caseRepository struct{ a access }

func (r *caseRepository) Create(_ context.Context, c *model.Case) error {
	return r.a.write(func(st *state) error {
		if _, ok := st.cases[c.ID]; ok {
			return fmt.Errorf("case %s already exists", c.ID)
		}
		st.cases[c.ID] = c.Clone()
		return nil
	})
}

func (r *caseRepository) Get(_ context.Context, id uuid.UUID) (*model.Case, error) {
	var out *model.Case
	err := r.a.read(func(st *state) error {
		c, ok := st.cases[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func (r *caseRepository) Update(_ context.Context, c *model.Case, expectedVersion int64) error {
	return r.a.write(func(st *state) error {
		cur, ok := st.cases[c.ID]
		if !ok || cur.Version != expectedVersion {
			return repository.ErrVersionConflict
		}
		st.cases[c.ID] = c.Clone()
		return nil
	})
}

func (r *caseRepository) List(_ context.Context, filter model.CaseFilter) ([]*model.Case, error) {
	var out []*model.Case
	err := r.a.read(func(st *state) error {
		for _, c := range st.cases {
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
			if filter.PatientID != nil && c.OwnerPatientID != *filter.PatientID {
				continue
			}
			if filter.DoctorID != nil && !c.IsAssignedTo(*filter.DoctorID) {
				continue
			}
			out = append(out, c.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if filter.Offset >= len(out) {
		return nil, err
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type appointmentRepository struct{ a access }

func (r *appointmentRepository) Create(_ context.Context, a *model.Appointment) error {
	return r.a.write(func(st *state) error {
		st.appointments[a.ID] = a.Clone()
		return nil
	})
}

func (r *appointmentRepository) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	var out *model.Appointment
	err := r.a.read(func(st *state) error {
		a, ok := st.appointments[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = a.Clone()
		return nil
	})
	return out, err
}

func (r *appointmentRepository) Update(_ context.Context, a *model.Appointment) error {
	return r.a.write(func(st *state) error {
		cur, ok := st.appointments[a.ID]
		if !ok {
			return repository.ErrNotFound
		}
		cur.Status = a.Status
		cur.UpdatedAt = a.UpdatedAt
		return nil
	})
}

func (r *appointmentRepository) GetActiveByCase(_ context.Context, caseID uuid.UUID) (*model.Appointment, error) {
	var out *model.Appointment
	err := r.a.read(func(st *state) error {
		for _, a := range st.appointments {
			if a.CaseID != caseID || a.Status == model.AppointmentStatusRescheduled {
				continue
			}
			if out == nil || a.RescheduleCount > out.RescheduleCount {
				out = a
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		out = out.Clone()
		return nil
	})
	return out, err
}

func (r *appointmentRepository) ListByCase(_ context.Context, caseID uuid.UUID) ([]*model.Appointment, error) {
	var out []*model.Appointment
	err := r.a.read(func(st *state) error {
		for _, a := range st.appointments {
			if a.CaseID == caseID {
				out = append(out, a.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RescheduleCount < out[j].RescheduleCount })
	return out, err
}

type rescheduleRepository struct{ a access }

func (r *rescheduleRepository) Create(_ context.Context, req *model.RescheduleRequest) error {
	return r.a.write(func(st *state) error {
		if req.Status == model.RescheduleStatusPending {
			for _, existing := range st.reschedules {
				if existing.AppointmentID == req.AppointmentID && existing.Status == model.RescheduleStatusPending {
					return fmt.Errorf("appointment %s already has a pending reschedule request", req.AppointmentID)
				}
			}
		}
		st.reschedules[req.ID] = req.Clone()
		return nil
	})
}

func (r *rescheduleRepository) Get(_ context.Context, id uuid.UUID) (*model.RescheduleRequest, error) {
	var out *model.RescheduleRequest
	err := r.a.read(func(st *state) error {
		req, ok := st.reschedules[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = req.Clone()
		return nil
	})
	return out, err
}

func (r *rescheduleRepository) Update(_ context.Context, req *model.RescheduleRequest) error {
	return r.a.write(func(st *state) error {
		if _, ok := st.reschedules[req.ID]; !ok {
			return repository.ErrNotFound
		}
		st.reschedules[req.ID] = req.Clone()
		return nil
	})
}

func (r *rescheduleRepository) GetPendingByAppointment(_ context.Context, appointmentID uuid.UUID) (*model.RescheduleRequest, error) {
	var out *model.RescheduleRequest
	err := r.a.read(func(st *state) error {
		for _, req := range st.reschedules {
			if req.AppointmentID == appointmentID && req.Status == model.RescheduleStatusPending {
				out = req.Clone()
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *rescheduleRepository) ListByCase(_ context.Context, caseID uuid.UUID) ([]*model.RescheduleRequest, error) {
	var out []*model.RescheduleRequest
	err := r.a.read(func(st *state) error {
		for _, req := range st.reschedules {
			if req.CaseID == caseID {
				out = append(out, req.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

type settlementRepository struct{ a access }

func (r *settlementRepository) Create(_ context.Context, s *model.PaymentSettlement) error {
	return r.a.write(func(st *state) error {
		for _, existing := range st.settlements {
			if existing.AppointmentID == s.AppointmentID {
				return fmt.Errorf("appointment %s is already settled", s.AppointmentID)
			}
		}
		st.settlements[s.ID] = cloneSettlement(s)
		return nil
	})
}

func (r *settlementRepository) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*model.PaymentSettlement, error) {
	var out *model.PaymentSettlement
	err := r.a.read(func(st *state) error {
		for _, s := range st.settlements {
			if s.AppointmentID == appointmentID {
				out = cloneSettlement(s)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

type couponRepository struct{ a access }

func (r *couponRepository) Create(_ context.Context, c *model.Coupon) error {
	return r.a.write(func(st *state) error {
		if _, ok := st.coupons[c.Code]; ok {
			return fmt.Errorf("coupon %s already exists", c.Code)
		}
		st.coupons[c.Code] = cloneCoupon(c)
		return nil
	})
}

func (r *couponRepository) Lookup(_ context.Context, code string, patientID uuid.UUID) (*model.Coupon, error) {
	var out *model.Coupon
	err := r.a.read(func(st *state) error {
		c, ok := st.coupons[code]
		if !ok || c.PatientID != patientID {
			return repository.ErrNotFound
		}
		out = cloneCoupon(c)
		return nil
	})
	return out, err
}

func (r *couponRepository) MarkRedeemed(_ context.Context, code string, appointmentID uuid.UUID, at time.Time) error {
	return r.a.write(func(st *state) error {
		c, ok := st.coupons[code]
		if !ok || c.Status != model.CouponStatusAvailable {
			return repository.ErrCouponUnavailable
		}
		c.Status = model.CouponStatusRedeemed
		c.RedeemedAt = &at
		c.RedeemedAppointmentID = &appointmentID
		return nil
	})
}

type outboxRepository struct{ a access }

func (r *outboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	return r.a.write(func(st *state) error {
		e := *event
		st.outbox[e.ID] = &e
		return nil
	})
}

func (r *outboxRepository) ClaimPending(_ context.Context, limit int, now time.Time) ([]*model.OutboxEvent, error) {
	var out []*model.OutboxEvent
	err := r.a.write(func(st *state) error {
		var due []*model.OutboxEvent
		for _, e := range st.outbox {
			if e.Status == model.OutboxStatusPending && (e.RetryAt == nil || !e.RetryAt.After(now)) {
				due = append(due, e)
			}
		}
		sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
		if len(due) > limit {
			due = due[:limit]
		}
		for _, e := range due {
			e.Status = model.OutboxStatusProcessing
			e.UpdatedAt = now
			cp := *e
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

func (r *outboxRepository) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.a.write(func(st *state) error {
		e, ok := st.outbox[id]
		if !ok {
			return repository.ErrNotFound
		}
		e.Status = model.OutboxStatusProcessed
		e.ProcessedAt = &at
		e.UpdatedAt = at
		e.ErrorMessage = nil
		return nil
	})
}

func (r *outboxRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) error {
	return r.a.write(func(st *state) error {
		e, ok := st.outbox[id]
		if !ok {
			return repository.ErrNotFound
		}
		e.Status = model.OutboxStatusFailed
		if retryAt != nil {
			e.Status = model.OutboxStatusPending
		}
		e.ErrorMessage = &errMsg
		e.RetryAt = retryAt
		e.RetryCount++
		return nil
	})
}

func (r *outboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.a.write(func(st *state) error {
		for id, e := range st.outbox {
			if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
				delete(st.outbox, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Events returns a snapshot of every outbox row, oldest first.
func (s *Store) Events() []*model.OutboxEvent {
	var out []*model.OutboxEvent
	_ = s.read(func(st *state) error {
		for _, e := range st.outbox {
			cp := *e
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type auditRepository struct{ a access }

func (r *auditRepository) Create(_ context.Context, log *model.AuditLog) error {
	return r.a.write(func(st *state) error {
		for _, existing := range st.audit {
			if existing.EventID == log.EventID {
				return nil
			}
		}
		l := *log
		st.audit[l.ID] = &l
		return nil
	})
}

func (r *auditRepository) ListByCase(_ context.Context, caseID uuid.UUID) ([]*model.AuditLog, error) {
	var out []*model.AuditLog
	err := r.a.read(func(st *state) error {
		for _, l := range st.audit {
			if l.CaseID == caseID {
				cp := *l
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, err
}

func (r *auditRepository) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.a.write(func(st *state) error {
		for id, l := range st.audit {
			if l.CreatedAt.Before(before) {
				delete(st.audit, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

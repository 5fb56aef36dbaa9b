// Package memory is an in-process repository.Store used for local runs and
// service tests. Transactions run against a private copy of the data that
// replaces the shared copy on success.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

type state struct {
	cases        map[uuid.UUID]*model.Case
	appointments map[uuid.UUID]*model.Appointment
	reschedules  map[uuid.UUID]*model.RescheduleRequest
	settlements  map[uuid.UUID]*model.PaymentSettlement
	coupons      map[string]*model.Coupon
	outbox       map[uuid.UUID]*model.OutboxEvent
	audit        map[uuid.UUID]*model.AuditLog
}

func newState() *state {
	return &state{
		cases:        map[uuid.UUID]*model.Case{},
		appointments: map[uuid.UUID]*model.Appointment{},
		reschedules:  map[uuid.UUID]*model.RescheduleRequest{},
		settlements:  map[uuid.UUID]*model.PaymentSettlement{},
		coupons:      map[string]*model.Coupon{},
		outbox:       map[uuid.UUID]*model.OutboxEvent{},
		audit:        map[uuid.UUID]*model.AuditLog{},
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.cases {
		cp.cases[k] = v.Clone()
	}
	for k, v := range s.appointments {
		cp.appointments[k] = v.Clone()
	}
	for k, v := range s.reschedules {
		cp.reschedules[k] = v.Clone()
	}
	for k, v := range s.settlements {
		cp.settlements[k] = cloneSettlement(v)
	}
	for k, v := range s.coupons {
		cp.coupons[k] = cloneCoupon(v)
	}
	for k, v := range s.outbox {
		e := *v
		cp.outbox[k] = &e
	}
	for k, v := range s.audit {
		l := *v
		cp.audit[k] = &l
	}
	return cp
}

// access hides whether a repository works on the shared state or on a
// transaction's private copy.
type access interface {
	read(fn func(*state) error) error
	write(fn func(*state) error) error
}

// Store is the in-memory repository.Store.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) read(fn func(*state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(fn func(*state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) WithTx(ctx context.Context, fn func(repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(bind(&txAccess{st: work})); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Cases() repository.CaseRepository               { return &caseRepository{a: s} }
func (s *Store) Appointments() repository.AppointmentRepository { return &appointmentRepository{a: s} }
func (s *Store) Reschedules() repository.RescheduleRepository   { return &rescheduleRepository{a: s} }
func (s *Store) Settlements() repository.SettlementRepository   { return &settlementRepository{a: s} }
func (s *Store) Coupons() repository.CouponRepository           { return &couponRepository{a: s} }
func (s *Store) Outbox() repository.OutboxRepository            { return &outboxRepository{a: s} }
func (s *Store) Audit() repository.AuditRepository              { return &auditRepository{a: s} }

var _ repository.Store = (*Store)(nil)

type txAccess struct {
	st *state
}

func (t *txAccess) read(fn func(*state) error) error  { return fn(t.st) }
func (t *txAccess) write(fn func(*state) error) error { return fn(t.st) }

type txRepos struct {
	a access
}

func bind(a access) repository.Repositories { return txRepos{a: a} }

func (r txRepos) Cases() repository.CaseRepository               { return &caseRepository{a: r.a} }
func (r txRepos) Appointments() repository.AppointmentRepository { return &appointmentRepository{a: r.a} }
func (r txRepos) Reschedules() repository.RescheduleRepository   { return &rescheduleRepository{a: r.a} }
func (r txRepos) Settlements() repository.SettlementRepository   { return &settlementRepository{a: r.a} }
func (r txRepos) Coupons() repository.CouponRepository           { return &couponRepository{a: r.a} }
func (r txRepos) Outbox() repository.OutboxRepository            { return &outboxRepository{a: r.a} }

func cloneSettlement(s *model.PaymentSettlement) *model.PaymentSettlement {
	cp := *s
	if s.CouponCode != nil {
		code := *s.CouponCode
		cp.CouponCode = &code
	}
	if s.TransactionRef != nil {
		ref := *s.TransactionRef
		cp.TransactionRef = &ref
	}
	return &cp
}

func cloneCoupon(c *model.Coupon) *model.Coupon {
	cp := *c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	if c.RedeemedAt != nil {
		t := *c.RedeemedAt
		cp.RedeemedAt = &t
	}
	if c.RedeemedAppointmentID != nil {
		id := *c.RedeemedAppointmentID
		cp.RedeemedAppointmentID = &id
	}
	return &cp
}

package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
)

// change accumulates everything one transition writes. Nothing in it is
// visible to other callers until commit succeeds.
type change struct {
	prev   *model.Case
	next   *model.Case
	now    time.Time
	actor  model.Actor
	reason string

	// active is the case's active appointment after the change.
	active   *model.Appointment
	replaced *model.Appointment

	apptUpdates []*model.Appointment
	apptCreates []*model.Appointment
	reqCreate   *model.RescheduleRequest
	reqUpdates  []*model.RescheduleRequest
	settlement  *model.PaymentSettlement

	events []model.DomainEvent
}

func newChange(c *model.Case, appt *model.Appointment, actor model.Actor, reason string, now time.Time) *change {
	ch := &change{
		prev:   c,
		next:   c.Clone(),
		now:    now,
		actor:  actor,
		reason: reason,
	}
	if appt != nil {
		ch.active = appt.Clone()
	}
	return ch
}

func (ch *change) event(by model.Actor, typ model.EventType, from, to string, data model.JSONMap) *model.DomainEvent {
	ch.events = append(ch.events, model.DomainEvent{
		ID:         uuid.New(),
		Type:       typ,
		CaseID:     ch.prev.ID,
		ActorRole:  by.Role,
		ActorID:    by.ID,
		From:       from,
		To:         to,
		Reason:     ch.reason,
		OccurredAt: ch.now,
		Data:       data,
	})
	return &ch.events[len(ch.events)-1]
}

func (ch *change) moveCase(by model.Actor, to model.CaseStatus) {
	from := ch.next.Status
	ch.next.Status = to
	ch.next.StatusChangedAt = ch.now
	ch.event(by, model.EventCaseStatusChanged, string(from), string(to), nil)
}

// moveAppointment transitions the active appointment.
func (ch *change) moveAppointment(by model.Actor, to model.AppointmentStatus) {
	ch.active = ch.updateAppointment(by, ch.active, to)
}

func (ch *change) updateAppointment(by model.Actor, a *model.Appointment, to model.AppointmentStatus) *model.Appointment {
	from := a.Status
	next := a.Clone()
	next.Status = to
	next.UpdatedAt = ch.now

	replacedPending := false
	for i, u := range ch.apptUpdates {
		if u.ID == next.ID {
			ch.apptUpdates[i] = next
			replacedPending = true
		}
	}
	if !replacedPending {
		ch.apptUpdates = append(ch.apptUpdates, next)
	}

	id := next.ID
	evt := ch.event(by, model.EventAppointmentStatusChanged, string(from), string(to), nil)
	evt.AppointmentID = &id
	return next
}

func (ch *change) createAppointment(by model.Actor, a *model.Appointment) {
	ch.apptCreates = append(ch.apptCreates, a)
	id := a.ID
	evt := ch.event(by, model.EventAppointmentCreated, "", string(a.Status), model.JSONMap{
		"scheduled_time":   a.ScheduledTime,
		"duration_minutes": a.DurationMinutes,
		"reschedule_count": a.RescheduleCount,
	})
	evt.AppointmentID = &id
	ch.active = a
}

func (ch *change) rescheduleEvent(by model.Actor, typ model.EventType, req *model.RescheduleRequest, from string, data model.JSONMap) {
	apptID, reqID := req.AppointmentID, req.ID
	evt := ch.event(by, typ, from, string(req.Status), data)
	evt.AppointmentID = &apptID
	evt.RescheduleRequestID = &reqID
}

func (ch *change) settled(s *model.PaymentSettlement) {
	ch.settlement = s
	apptID := s.AppointmentID
	evt := ch.event(ch.actor, model.EventPaymentSettled, "", "", model.JSONMap{
		"method":   s.Method,
		"amount":   s.Amount,
		"currency": s.Currency,
	})
	evt.AppointmentID = &apptID
}

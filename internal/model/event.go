package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCaseSubmitted            EventType = "CaseSubmitted"
	EventCaseStatusChanged        EventType = "CaseStatusChanged"
	EventAppointmentCreated       EventType = "AppointmentCreated"
	EventAppointmentStatusChanged EventType = "AppointmentStatusChanged"
	EventPaymentSettled           EventType = "PaymentSettled"
	EventRescheduleRequested      EventType = "RescheduleRequested"
	EventRescheduleApproved       EventType = "RescheduleApproved"
	EventRescheduleRejected       EventType = "RescheduleRejected"
)

// DomainEvent describes one committed lifecycle change. Events are handed to
// the notification and audit consumers through the outbox.
type DomainEvent struct {
	ID                  uuid.UUID  `json:"id"`
	Type                EventType  `json:"type"`
	CaseID              uuid.UUID  `json:"case_id"`
	AppointmentID       *uuid.UUID `json:"appointment_id,omitempty"`
	RescheduleRequestID *uuid.UUID `json:"reschedule_request_id,omitempty"`
	ActorRole           Role       `json:"actor_role"`
	ActorID             uuid.UUID  `json:"actor_id"`
	From                string     `json:"from,omitempty"`
	To                  string     `json:"to,omitempty"`
	Reason              string     `json:"reason,omitempty"`
	OccurredAt          time.Time  `json:"occurred_at"`
	Data                JSONMap    `json:"data,omitempty"`
}

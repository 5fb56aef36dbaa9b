package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog is the persisted record of a lifecycle event as seen by the
// audit consumer.
type AuditLog struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	EventID       uuid.UUID       `json:"event_id" db:"event_id"`
	EventType     string          `json:"event_type" db:"event_type"`
	CaseID        uuid.UUID       `json:"case_id" db:"case_id"`
	AppointmentID *uuid.UUID      `json:"appointment_id,omitempty" db:"appointment_id"`
	ActorRole     string          `json:"actor_role" db:"actor_role"`
	ActorID       uuid.UUID       `json:"actor_id" db:"actor_id"`
	FromStatus    string          `json:"from_status" db:"from_status"`
	ToStatus      string          `json:"to_status" db:"to_status"`
	Reason        string          `json:"reason" db:"reason"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	OccurredAt    time.Time       `json:"occurred_at" db:"occurred_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewAuditLog builds the audit row for a delivered event.
func NewAuditLog(evt DomainEvent, raw json.RawMessage, now time.Time) *AuditLog {
	return &AuditLog{
		ID:            uuid.New(),
		EventID:       evt.ID,
		EventType:     string(evt.Type),
		CaseID:        evt.CaseID,
		AppointmentID: evt.AppointmentID,
		ActorRole:     string(evt.ActorRole),
		ActorID:       evt.ActorID,
		FromStatus:    evt.From,
		ToStatus:      evt.To,
		Reason:        evt.Reason,
		Payload:       raw,
		OccurredAt:    evt.OccurredAt,
		CreatedAt:     now,
	}
}

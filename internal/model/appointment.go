package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled      AppointmentStatus = "SCHEDULED"
	AppointmentStatusPaymentPending AppointmentStatus = "PAYMENT_PENDING"
	AppointmentStatusConfirmed      AppointmentStatus = "CONFIRMED"
	AppointmentStatusRescheduled    AppointmentStatus = "RESCHEDULED"
	AppointmentStatusCancelled      AppointmentStatus = "CANCELLED"
	AppointmentStatusInProgress     AppointmentStatus = "IN_PROGRESS"
	AppointmentStatusCompleted      AppointmentStatus = "COMPLETED"
	AppointmentStatusNoShow         AppointmentStatus = "NO_SHOW"
)

type ConsultationType string

const (
	ConsultationVideo    ConsultationType = "VIDEO"
	ConsultationAudio    ConsultationType = "AUDIO"
	ConsultationChat     ConsultationType = "CHAT"
	ConsultationInPerson ConsultationType = "IN_PERSON"
)

type Appointment struct {
	Base
	CaseID           uuid.UUID         `db:"case_id" json:"case_id"`
	Status           AppointmentStatus `db:"status" json:"status"`
	ScheduledTime    time.Time         `db:"scheduled_time" json:"scheduled_time"`
	DurationMinutes  int               `db:"duration_minutes" json:"duration_minutes"`
	ConsultationType ConsultationType  `db:"consultation_type" json:"consultation_type"`
	ConsultationFee  Money             `db:"consultation_fee" json:"consultation_fee"`
	Currency         string            `db:"currency" json:"currency"`
	RescheduleCount  int               `db:"reschedule_count" json:"reschedule_count"`
	SupersedesID     *uuid.UUID        `db:"supersedes_id" json:"supersedes_id,omitempty"`
}

func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// Clone returns a copy that shares no pointers with a.
func (a *Appointment) Clone() *Appointment {
	cp := *a
	if a.SupersedesID != nil {
		id := *a.SupersedesID
		cp.SupersedesID = &id
	}
	return &cp
}

// ScheduleDetails is supplied by the doctor when scheduling a consultation.
type ScheduleDetails struct {
	ScheduledTime    time.Time        `json:"scheduled_time" binding:"required" validate:"required"`
	DurationMinutes  int              `json:"duration_minutes" binding:"required,min=5,max=240" validate:"required,min=5,max=240"`
	ConsultationType ConsultationType `json:"consultation_type" binding:"required,oneof=VIDEO AUDIO CHAT IN_PERSON" validate:"required,oneof=VIDEO AUDIO CHAT IN_PERSON"`
	Fee              Money            `json:"fee" binding:"min=0" validate:"min=0"`
	Currency         string           `json:"currency" binding:"omitempty,len=3" validate:"omitempty,len=3"`
}

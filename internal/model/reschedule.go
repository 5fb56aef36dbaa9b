package model

import (
	"time"

	"github.com/google/uuid"
)

type RescheduleStatus string

const (
	RescheduleStatusPending  RescheduleStatus = "PENDING"
	RescheduleStatusApproved RescheduleStatus = "APPROVED"
	RescheduleStatusRejected RescheduleStatus = "REJECTED"
)

type RescheduleDecision string

const (
	DecisionApprove RescheduleDecision = "APPROVE"
	DecisionReject  RescheduleDecision = "REJECT"
)

type RescheduleRequest struct {
	Base
	AppointmentID   uuid.UUID        `db:"appointment_id" json:"appointment_id"`
	CaseID          uuid.UUID        `db:"case_id" json:"case_id"`
	RequestedByRole Role             `db:"requested_by_role" json:"requested_by_role"`
	RequestedByID   uuid.UUID        `db:"requested_by_id" json:"requested_by_id"`
	Status          RescheduleStatus `db:"status" json:"status"`
	PreferredTimes  TimeList         `db:"preferred_times" json:"preferred_times"`
	Reason          string           `db:"reason" json:"reason,omitempty"`
	ChosenTime      *time.Time       `db:"chosen_time" json:"chosen_time,omitempty"`
	ResolvedByID    *uuid.UUID       `db:"resolved_by_id" json:"resolved_by_id,omitempty"`
	ResolvedAt      *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Clone returns a copy that shares no pointers with r.
func (r *RescheduleRequest) Clone() *RescheduleRequest {
	cp := *r
	cp.PreferredTimes = append(TimeList(nil), r.PreferredTimes...)
	if r.ChosenTime != nil {
		t := *r.ChosenTime
		cp.ChosenTime = &t
	}
	if r.ResolvedByID != nil {
		id := *r.ResolvedByID
		cp.ResolvedByID = &id
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// RescheduleProposal is the payload of a reschedule request.
type RescheduleProposal struct {
	PreferredTimes []time.Time `json:"preferred_times" binding:"required,min=1"`
	Reason         string      `json:"reason" binding:"max=1000"`
}

// RescheduleResponse is the doctor's answer to a pending request.
type RescheduleResponse struct {
	RequestID  uuid.UUID          `json:"request_id"`
	Decision   RescheduleDecision `json:"decision" binding:"required,oneof=APPROVE REJECT"`
	ChosenTime *time.Time         `json:"chosen_time"`
}

package model

import (
	"github.com/google/uuid"
)

// Intent names the lifecycle operation a caller asks for.
type Intent string

const (
	IntentTriage               Intent = "TRIAGE"
	IntentAssign               Intent = "ASSIGN"
	IntentAccept               Intent = "ACCEPT"
	IntentReject               Intent = "REJECT"
	IntentSchedule             Intent = "SCHEDULE"
	IntentRequestPayment       Intent = "REQUEST_PAYMENT"
	IntentSettle               Intent = "SETTLE"
	IntentStartConsultation    Intent = "START_CONSULTATION"
	IntentCompleteConsultation Intent = "COMPLETE_CONSULTATION"
	IntentClose                Intent = "CLOSE"
	IntentCancelAppointment    Intent = "CANCEL_APPOINTMENT"
	IntentMarkNoShow           Intent = "MARK_NO_SHOW"
	IntentRequestReschedule    Intent = "REQUEST_RESCHEDULE"
	IntentRespondReschedule    Intent = "RESPOND_RESCHEDULE"
	IntentCancelReschedule     Intent = "CANCEL_RESCHEDULE"
)

// Intents lists every intent in presentation order.
var Intents = []Intent{
	IntentTriage,
	IntentAssign,
	IntentAccept,
	IntentReject,
	IntentSchedule,
	IntentRequestPayment,
	IntentSettle,
	IntentStartConsultation,
	IntentCompleteConsultation,
	IntentClose,
	IntentCancelAppointment,
	IntentMarkNoShow,
	IntentRequestReschedule,
	IntentRespondReschedule,
	IntentCancelReschedule,
}

// Payload holds the intent-specific arguments of a transition. Only the
// fields relevant to the intent are read.
type Payload struct {
	// ExpectedVersion, when non-zero, must equal the case version the
	// caller last read.
	ExpectedVersion int64               `json:"expected_version"`
	Reason          string              `json:"reason,omitempty"`
	DoctorID        *uuid.UUID          `json:"doctor_id,omitempty"`
	Schedule        *ScheduleDetails    `json:"schedule,omitempty"`
	Settlement      *SettlementRequest  `json:"settlement,omitempty"`
	Reschedule      *RescheduleProposal `json:"reschedule,omitempty"`
	Response        *RescheduleResponse `json:"response,omitempty"`
	RequestID       *uuid.UUID          `json:"request_id,omitempty"`
}

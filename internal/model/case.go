package model

import (
	"time"

	"github.com/google/uuid"
)

type CaseStatus string

const (
	CaseStatusSubmitted            CaseStatus = "SUBMITTED"
	CaseStatusPending              CaseStatus = "PENDING"
	CaseStatusAssigned             CaseStatus = "ASSIGNED"
	CaseStatusAccepted             CaseStatus = "ACCEPTED"
	CaseStatusRejected             CaseStatus = "REJECTED"
	CaseStatusScheduled            CaseStatus = "SCHEDULED"
	CaseStatusPaymentPending       CaseStatus = "PAYMENT_PENDING"
	CaseStatusInProgress           CaseStatus = "IN_PROGRESS"
	CaseStatusConsultationComplete CaseStatus = "CONSULTATION_COMPLETE"
	CaseStatusClosed               CaseStatus = "CLOSED"
)

// HasAssignedDoctor reports whether a case in this status must carry an
// assigned doctor.
func (s CaseStatus) HasAssignedDoctor() bool {
	switch s {
	case CaseStatusAssigned, CaseStatusAccepted, CaseStatusScheduled, CaseStatusPaymentPending,
		CaseStatusInProgress, CaseStatusConsultationComplete, CaseStatusClosed:
		return true
	}
	return false
}

type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "LOW"
	UrgencyMedium   UrgencyLevel = "MEDIUM"
	UrgencyHigh     UrgencyLevel = "HIGH"
	UrgencyCritical UrgencyLevel = "CRITICAL"
)

type Complexity string

const (
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityModerate Complexity = "MODERATE"
	ComplexityComplex  Complexity = "COMPLEX"
)

type Case struct {
	Base
	Status                 CaseStatus   `db:"status" json:"status"`
	Title                  string       `db:"title" json:"title"`
	Description            string       `db:"description" json:"description,omitempty"`
	UrgencyLevel           UrgencyLevel `db:"urgency_level" json:"urgency_level"`
	Complexity             Complexity   `db:"complexity" json:"complexity"`
	RequiredSpecialization string       `db:"required_specialization" json:"required_specialization,omitempty"`
	OwnerPatientID         uuid.UUID    `db:"owner_patient_id" json:"owner_patient_id"`
	AssignedDoctorID       *uuid.UUID   `db:"assigned_doctor_id" json:"assigned_doctor_id,omitempty"`
	DependentID            *uuid.UUID   `db:"dependent_id" json:"dependent_id,omitempty"`
	StatusChangedAt        time.Time    `db:"status_changed_at" json:"status_changed_at"`
	Version                int64        `db:"version" json:"version"`
}

// IsAssignedTo reports whether doctorID is the case's assigned doctor.
func (c *Case) IsAssignedTo(doctorID uuid.UUID) bool {
	return c.AssignedDoctorID != nil && *c.AssignedDoctorID == doctorID
}

// Clone returns a copy that shares no pointers with c.
func (c *Case) Clone() *Case {
	cp := *c
	if c.AssignedDoctorID != nil {
		id := *c.AssignedDoctorID
		cp.AssignedDoctorID = &id
	}
	if c.DependentID != nil {
		id := *c.DependentID
		cp.DependentID = &id
	}
	return &cp
}

// NewCaseRequest is the payload for submitting a case.
type NewCaseRequest struct {
	Title                  string       `json:"title" binding:"required,max=200" validate:"required,max=200"`
	Description            string       `json:"description" binding:"max=4000" validate:"max=4000"`
	UrgencyLevel           UrgencyLevel `json:"urgency_level" binding:"required,oneof=LOW MEDIUM HIGH CRITICAL" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
	Complexity             Complexity   `json:"complexity" binding:"omitempty,oneof=SIMPLE MODERATE COMPLEX" validate:"omitempty,oneof=SIMPLE MODERATE COMPLEX"`
	RequiredSpecialization string       `json:"required_specialization" binding:"max=100" validate:"max=100"`
	// PatientID is required when a supervisor files on a patient's behalf.
	PatientID   *uuid.UUID `json:"patient_id"`
	DependentID *uuid.UUID `json:"dependent_id"`
}

type CaseFilter struct {
	Status    CaseStatus `form:"status"`
	PatientID *uuid.UUID `form:"patient_id"`
	DoctorID  *uuid.UUID `form:"doctor_id"`
	Pagination
}

package model

import (
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient    Role = "PATIENT"
	RoleSupervisor Role = "SUPERVISOR"
	RoleDoctor     Role = "DOCTOR"
	RoleAdmin      Role = "ADMIN"
	// RoleSystem is used for transitions the service triggers itself.
	RoleSystem Role = "SYSTEM"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleSupervisor, RoleDoctor, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the caller of a lifecycle operation as supplied by the identity
// layer. PatientIDs is the set of patients a SUPERVISOR may act for.
type Actor struct {
	Role       Role        `json:"role"`
	ID         uuid.UUID   `json:"id"`
	PatientIDs []uuid.UUID `json:"patient_ids,omitempty"`
}

// SystemActor is the actor recorded on service-triggered transitions.
var SystemActor = Actor{Role: RoleSystem, ID: uuid.Nil}

// ActsFor reports whether the actor may act as the given patient.
func (a Actor) ActsFor(patientID uuid.UUID) bool {
	switch a.Role {
	case RolePatient:
		return a.ID == patientID
	case RoleSupervisor:
		for _, id := range a.PatientIDs {
			if id == patientID {
				return true
			}
		}
	}
	return false
}

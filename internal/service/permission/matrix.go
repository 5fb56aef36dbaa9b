package permission

import (
	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/service/status"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
)

// Relation is what an actor must be to the case, on top of holding the role.
type Relation int

const (
	RelationNone Relation = iota
	// RelationAssignedDoctor requires actor.ID to be the case's doctor.
	RelationAssignedDoctor
	// RelationOwner requires the actor to act for the case's patient.
	RelationOwner
)

type Grant struct {
	Role     model.Role
	Relation Relation
}

type Rule struct {
	Grants         []Grant
	RequiresReason bool
}

func (r Rule) roles() []model.Role {
	out := make([]model.Role, 0, len(r.Grants))
	for _, g := range r.Grants {
		out = append(out, g.Role)
	}
	return out
}

type edge struct {
	from model.CaseStatus
	to   model.CaseStatus
}

type intentRule struct {
	from []model.CaseStatus
	rule Rule
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed        bool
	Reason         apperrors.DenyReason
	From           model.CaseStatus
	RequiredRoles  []model.Role
	RequiresReason bool
}

// Err converts a denial into a PermissionDenied error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	roles := make([]string, 0, len(d.RequiredRoles))
	for _, r := range d.RequiredRoles {
		roles = append(roles, string(r))
	}
	return apperrors.PermissionDenied(d.Reason, string(d.From), roles)
}

// Matrix maps case edges and non-edge intents to the actors allowed to
// trigger them.
type Matrix struct {
	edges   map[edge]Rule
	intents map[model.Intent]intentRule
}

var (
	adminOnly      = Rule{Grants: []Grant{{Role: model.RoleAdmin}}}
	systemOnly     = Rule{Grants: []Grant{{Role: model.RoleSystem}}}
	assignedDoctor = Rule{Grants: []Grant{{Role: model.RoleDoctor, Relation: RelationAssignedDoctor}}}
	caseOwner      = Rule{Grants: []Grant{
		{Role: model.RolePatient, Relation: RelationOwner},
		{Role: model.RoleSupervisor, Relation: RelationOwner},
	}}
	scheduledClass = []model.CaseStatus{model.CaseStatusScheduled, model.CaseStatusPaymentPending}
)

// NewMatrix returns the standard rule table.
func NewMatrix() *Matrix {
	m := &Matrix{
		edges: map[edge]Rule{
			{model.CaseStatusSubmitted, model.CaseStatusPending}: {Grants: []Grant{
				{Role: model.RoleAdmin}, {Role: model.RoleSystem},
			}},
			{model.CaseStatusPending, model.CaseStatusAssigned}:                adminOnly,
			{model.CaseStatusAssigned, model.CaseStatusAccepted}:               assignedDoctor,
			{model.CaseStatusAssigned, model.CaseStatusRejected}:               assignedDoctor,
			{model.CaseStatusAccepted, model.CaseStatusScheduled}:              assignedDoctor,
			{model.CaseStatusScheduled, model.CaseStatusPaymentPending}:        systemOnly,
			{model.CaseStatusPaymentPending, model.CaseStatusInProgress}:       assignedDoctor,
			{model.CaseStatusInProgress, model.CaseStatusConsultationComplete}: assignedDoctor,
			{model.CaseStatusConsultationComplete, model.CaseStatusClosed}: {Grants: []Grant{
				{Role: model.RoleDoctor, Relation: RelationAssignedDoctor}, {Role: model.RoleAdmin},
			}},
		},
		intents: map[model.Intent]intentRule{
			model.IntentSettle:            {from: scheduledClass, rule: caseOwner},
			model.IntentRequestReschedule: {from: scheduledClass, rule: caseOwner},
			model.IntentCancelReschedule:  {from: scheduledClass, rule: caseOwner},
			model.IntentRespondReschedule: {from: scheduledClass, rule: assignedDoctor},
			model.IntentCancelAppointment: {
				from: []model.CaseStatus{model.CaseStatusScheduled, model.CaseStatusPaymentPending, model.CaseStatusInProgress},
				rule: Rule{Grants: []Grant{{Role: model.RoleAdmin}}, RequiresReason: true},
			},
			model.IntentMarkNoShow: {from: scheduledClass, rule: Rule{Grants: []Grant{
				{Role: model.RoleDoctor, Relation: RelationAssignedDoctor}, {Role: model.RoleAdmin},
			}}},
		},
	}

	for _, from := range status.Cases.States() {
		for _, to := range status.Cases.Next(from) {
			if status.Cases.IsOverride(from, to) {
				m.edges[edge{from, to}] = Rule{Grants: []Grant{{Role: model.RoleAdmin}}, RequiresReason: true}
			}
		}
	}
	return m
}

// CaseTarget returns the case status an intent moves to, or false when the
// intent does not move the case.
func CaseTarget(intent model.Intent) (model.CaseStatus, bool) {
	switch intent {
	case model.IntentTriage:
		return model.CaseStatusPending, true
	case model.IntentAssign:
		return model.CaseStatusAssigned, true
	case model.IntentAccept:
		return model.CaseStatusAccepted, true
	case model.IntentReject:
		return model.CaseStatusRejected, true
	case model.IntentSchedule:
		return model.CaseStatusScheduled, true
	case model.IntentRequestPayment:
		return model.CaseStatusPaymentPending, true
	case model.IntentStartConsultation:
		return model.CaseStatusInProgress, true
	case model.IntentCompleteConsultation:
		return model.CaseStatusConsultationComplete, true
	case model.IntentClose:
		return model.CaseStatusClosed, true
	}
	return "", false
}

// AppointmentTarget returns the status the active appointment moves to under
// an intent, or false when the intent leaves it alone.
func AppointmentTarget(intent model.Intent) (model.AppointmentStatus, bool) {
	switch intent {
	case model.IntentRequestPayment:
		return model.AppointmentStatusPaymentPending, true
	case model.IntentSettle:
		return model.AppointmentStatusConfirmed, true
	case model.IntentStartConsultation:
		return model.AppointmentStatusInProgress, true
	case model.IntentCompleteConsultation:
		return model.AppointmentStatusCompleted, true
	case model.IntentCancelAppointment:
		return model.AppointmentStatusCancelled, true
	case model.IntentMarkNoShow:
		return model.AppointmentStatusNoShow, true
	case model.IntentRespondReschedule, model.IntentRequestReschedule:
		return model.AppointmentStatusRescheduled, true
	}
	return "", false
}

// Authorize decides whether actor may apply intent to c in its current
// status. Graph legality is not checked here.
func (m *Matrix) Authorize(actor model.Actor, c *model.Case, intent model.Intent) Decision {
	rule, ok := m.ruleFor(c.Status, intent)
	if !ok {
		return Decision{Reason: apperrors.ReasonIllegalFromState, From: c.Status}
	}
	return check(actor, c, rule)
}

func (m *Matrix) ruleFor(from model.CaseStatus, intent model.Intent) (Rule, bool) {
	if to, ok := CaseTarget(intent); ok {
		rule, ok := m.edges[edge{from, to}]
		return rule, ok
	}
	ir, ok := m.intents[intent]
	if !ok {
		return Rule{}, false
	}
	for _, s := range ir.from {
		if s == from {
			return ir.rule, true
		}
	}
	return Rule{}, false
}

func check(actor model.Actor, c *model.Case, rule Rule) Decision {
	d := Decision{From: c.Status, RequiredRoles: rule.roles(), RequiresReason: rule.RequiresReason}

	roleMatched := false
	for _, g := range rule.Grants {
		if g.Role != actor.Role {
			continue
		}
		roleMatched = true
		switch g.Relation {
		case RelationAssignedDoctor:
			if !c.IsAssignedTo(actor.ID) {
				continue
			}
		case RelationOwner:
			if !actor.ActsFor(c.OwnerPatientID) {
				continue
			}
		}
		d.Allowed = true
		return d
	}

	if roleMatched {
		d.Reason = apperrors.ReasonNotOwner
	} else {
		d.Reason = apperrors.ReasonWrongRole
	}
	return d
}

// AvailableIntents lists the intents actor could successfully start on c
// given its active appointment and pending reschedule request, either of
// which may be nil. It does not evaluate payloads.
func (m *Matrix) AvailableIntents(actor model.Actor, c *model.Case, appt *model.Appointment, pending *model.RescheduleRequest) []model.Intent {
	var out []model.Intent
	for _, intent := range model.Intents {
		if to, ok := CaseTarget(intent); ok && !status.Cases.Allows(c.Status, to) {
			continue
		}
		if !appointmentReady(intent, appt, pending, actor) {
			continue
		}
		if m.Authorize(actor, c, intent).Allowed {
			out = append(out, intent)
		}
	}
	return out
}

func appointmentReady(intent model.Intent, appt *model.Appointment, pending *model.RescheduleRequest, actor model.Actor) bool {
	switch intent {
	case model.IntentSchedule:
		return appt == nil
	case model.IntentClose:
		return true
	case model.IntentRequestReschedule:
		return appt != nil && pending == nil && status.Reschedulable(appt.Status)
	case model.IntentRespondReschedule:
		return appt != nil && pending != nil && status.Reschedulable(appt.Status)
	case model.IntentCancelReschedule:
		return pending != nil && pending.RequestedByID == actor.ID
	case model.IntentSettle:
		return appt != nil && (appt.Status == model.AppointmentStatusScheduled ||
			appt.Status == model.AppointmentStatusPaymentPending)
	}
	to, ok := AppointmentTarget(intent)
	if !ok {
		return true
	}
	return appt != nil && status.Appointments.Allows(appt.Status, to)
}

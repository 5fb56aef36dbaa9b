package status

import (
	"github.com/jwalitptl/consult-lifecycle/internal/model"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
)

// State is any lifecycle status enumeration.
type State interface {
	~string
}

// Graph is an immutable directed graph of legal status moves.
type Graph[S State] struct {
	edges     map[S][]S
	overrides map[S]map[S]bool
}

func newGraph[S State](edges map[S][]S) *Graph[S] {
	return &Graph[S]{edges: edges, overrides: map[S]map[S]bool{}}
}

// withEdgesInto adds from -> to for every listed from.
func (g *Graph[S]) withEdgesInto(to S, from ...S) *Graph[S] {
	for _, f := range from {
		g.edges[f] = append(g.edges[f], to)
	}
	return g
}

func (g *Graph[S]) withOverrides(to S, from ...S) *Graph[S] {
	g.withEdgesInto(to, from...)
	for _, f := range from {
		if g.overrides[f] == nil {
			g.overrides[f] = map[S]bool{}
		}
		g.overrides[f][to] = true
	}
	return g
}

// Next returns the states reachable in one move. The result is empty for
// terminal and unknown states and is safe to modify.
func (g *Graph[S]) Next(from S) []S {
	next := g.edges[from]
	out := make([]S, len(next))
	copy(out, next)
	return out
}

// Allows reports whether from -> to is an edge.
func (g *Graph[S]) Allows(from, to S) bool {
	for _, s := range g.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no move leaves from.
func (g *Graph[S]) IsTerminal(from S) bool {
	return len(g.edges[from]) == 0
}

// IsOverride reports whether from -> to is an administrative override edge.
func (g *Graph[S]) IsOverride(from, to S) bool {
	return g.overrides[from][to]
}

// Validate returns an InvalidTransition error when from -> to is not an edge.
func (g *Graph[S]) Validate(from, to S) error {
	if !g.Allows(from, to) {
		return apperrors.InvalidTransition(string(from), string(to))
	}
	return nil
}

// States lists every state that appears in the graph.
func (g *Graph[S]) States() []S {
	seen := map[S]bool{}
	var out []S
	add := func(s S) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for from, tos := range g.edges {
		add(from)
		for _, to := range tos {
			add(to)
		}
	}
	return out
}

// Cases is the case lifecycle. Cases without an assigned doctor cannot be
// closed by override.
var Cases = newGraph(map[model.CaseStatus][]model.CaseStatus{
	model.CaseStatusSubmitted:            {model.CaseStatusPending},
	model.CaseStatusPending:              {model.CaseStatusAssigned},
	model.CaseStatusAssigned:             {model.CaseStatusAccepted, model.CaseStatusRejected},
	model.CaseStatusAccepted:             {model.CaseStatusScheduled},
	model.CaseStatusScheduled:            {model.CaseStatusPaymentPending},
	model.CaseStatusPaymentPending:       {model.CaseStatusInProgress},
	model.CaseStatusInProgress:           {model.CaseStatusConsultationComplete},
	model.CaseStatusConsultationComplete: {model.CaseStatusClosed},
	model.CaseStatusRejected:             {},
	model.CaseStatusClosed:               {},
}).withOverrides(model.CaseStatusClosed,
	model.CaseStatusAssigned,
	model.CaseStatusAccepted,
	model.CaseStatusScheduled,
	model.CaseStatusPaymentPending,
	model.CaseStatusInProgress,
)

// Appointments is the appointment lifecycle. RESCHEDULED marks a superseded
// appointment; its replacement starts at SCHEDULED.
var Appointments = newGraph(map[model.AppointmentStatus][]model.AppointmentStatus{
	model.AppointmentStatusScheduled: {
		model.AppointmentStatusPaymentPending,
		model.AppointmentStatusRescheduled,
	},
	model.AppointmentStatusPaymentPending: {
		model.AppointmentStatusConfirmed,
		model.AppointmentStatusRescheduled,
	},
	model.AppointmentStatusConfirmed:   {model.AppointmentStatusInProgress},
	model.AppointmentStatusInProgress:  {model.AppointmentStatusCompleted},
	model.AppointmentStatusCompleted:   {},
	model.AppointmentStatusCancelled:   {},
	model.AppointmentStatusNoShow:      {},
	model.AppointmentStatusRescheduled: {},
}).withOverrides(model.AppointmentStatusCancelled,
	model.AppointmentStatusScheduled,
	model.AppointmentStatusPaymentPending,
	model.AppointmentStatusConfirmed,
	model.AppointmentStatusInProgress,
).withEdgesInto(model.AppointmentStatusNoShow,
	model.AppointmentStatusScheduled,
	model.AppointmentStatusPaymentPending,
	model.AppointmentStatusConfirmed,
	model.AppointmentStatusInProgress,
)

// Reschedules is the reschedule request lifecycle.
var Reschedules = newGraph(map[model.RescheduleStatus][]model.RescheduleStatus{
	model.RescheduleStatusPending:  {model.RescheduleStatusApproved, model.RescheduleStatusRejected},
	model.RescheduleStatusApproved: {},
	model.RescheduleStatusRejected: {},
})

// NextCaseStates is Cases.Next.
func NextCaseStates(s model.CaseStatus) []model.CaseStatus {
	return Cases.Next(s)
}

// NextAppointmentStates is Appointments.Next.
func NextAppointmentStates(s model.AppointmentStatus) []model.AppointmentStatus {
	return Appointments.Next(s)
}

// Reschedulable reports whether an appointment in this status may be
// superseded by a reschedule.
func Reschedulable(s model.AppointmentStatus) bool {
	return Appointments.Allows(s, model.AppointmentStatusRescheduled)
}

// CheckCase verifies the assigned-doctor invariant of a case.
func CheckCase(c *model.Case) error {
	if c.Status.HasAssignedDoctor() != (c.AssignedDoctorID != nil) {
		return apperrors.Newf(apperrors.KindInvalidRequest,
			"case %s in %s has inconsistent doctor assignment", c.ID, c.Status)
	}
	return nil
}

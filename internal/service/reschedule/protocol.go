// Package reschedule implements the negotiation of a new time for an
// appointment. It only plans changes; the lifecycle service commits them.
package reschedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/service/status"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
)

// MaxPreferredTimes caps the alternatives a requester may propose.
const MaxPreferredTimes = 5

type Protocol struct {
	now func() time.Time
}

func NewProtocol() *Protocol {
	return &Protocol{now: time.Now}
}

// WithClock replaces the time source.
func (p *Protocol) WithClock(now func() time.Time) *Protocol {
	p.now = now
	return p
}

// Request opens a reschedule request for appt. pending is the appointment's
// open request, if any.
func (p *Protocol) Request(appt *model.Appointment, pending *model.RescheduleRequest, proposal *model.RescheduleProposal, by model.Actor) (*model.RescheduleRequest, error) {
	if !status.Reschedulable(appt.Status) {
		return nil, apperrors.Newf(apperrors.KindAppointmentNotReschedulable,
			"appointment %s is %s", appt.ID, appt.Status)
	}
	if proposal == nil || len(proposal.PreferredTimes) == 0 {
		return nil, apperrors.InvalidRequest("at least one preferred time is required")
	}
	if len(proposal.PreferredTimes) > MaxPreferredTimes {
		return nil, apperrors.Newf(apperrors.KindTooManyPreferredTimes,
			"%d preferred times given, at most %d allowed", len(proposal.PreferredTimes), MaxPreferredTimes)
	}

	now := p.now()
	seen := make(map[int64]bool, len(proposal.PreferredTimes))
	times := make(model.TimeList, 0, len(proposal.PreferredTimes))
	for _, t := range proposal.PreferredTimes {
		if !t.After(now) {
			return nil, apperrors.InvalidRequest(fmt.Sprintf("preferred time %s is not in the future", t.Format(time.RFC3339)))
		}
		key := t.UnixNano()
		if seen[key] {
			return nil, apperrors.InvalidRequest(fmt.Sprintf("preferred time %s is listed twice", t.Format(time.RFC3339)))
		}
		seen[key] = true
		times = append(times, t.UTC())
	}

	if pending != nil {
		return nil, apperrors.Newf(apperrors.KindExistingPendingRequest,
			"appointment %s already has pending request %s", appt.ID, pending.ID)
	}

	return &model.RescheduleRequest{
		Base:            model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		AppointmentID:   appt.ID,
		CaseID:          appt.CaseID,
		RequestedByRole: by.Role,
		RequestedByID:   by.ID,
		Status:          model.RescheduleStatusPending,
		PreferredTimes:  times,
		Reason:          proposal.Reason,
	}, nil
}

// Outcome is the planned result of a response.
type Outcome struct {
	Request *model.RescheduleRequest
	// Superseded and Replacement are set only on approval.
	Superseded  *model.Appointment
	Replacement *model.Appointment
}

// Respond resolves req, which targets appt. The appointment check comes
// first so that answering a request twice reports the superseded
// appointment rather than the resolved request.
func (p *Protocol) Respond(appt *model.Appointment, req *model.RescheduleRequest, resp *model.RescheduleResponse, by model.Actor) (*Outcome, error) {
	if !status.Reschedulable(appt.Status) {
		return nil, apperrors.Newf(apperrors.KindAppointmentNotReschedulable,
			"appointment %s is %s", appt.ID, appt.Status)
	}
	if resp == nil {
		return nil, apperrors.InvalidRequest("a decision is required")
	}

	var to model.RescheduleStatus
	switch resp.Decision {
	case model.DecisionApprove:
		to = model.RescheduleStatusApproved
	case model.DecisionReject:
		to = model.RescheduleStatusRejected
	default:
		return nil, apperrors.InvalidRequest(fmt.Sprintf("unknown decision %q", resp.Decision))
	}
	if err := status.Reschedules.Validate(req.Status, to); err != nil {
		return nil, err
	}

	now := p.now()
	resolved := req.Clone()
	resolved.Status = to
	resolved.ResolvedByID = &by.ID
	resolved.ResolvedAt = &now
	resolved.UpdatedAt = now

	if to == model.RescheduleStatusRejected {
		return &Outcome{Request: resolved}, nil
	}

	if resp.ChosenTime == nil || !req.PreferredTimes.Contains(*resp.ChosenTime) {
		return nil, apperrors.InvalidRequest("the chosen time must be one of the preferred times")
	}
	if !resp.ChosenTime.After(now) {
		return nil, apperrors.InvalidRequest("the chosen time has already passed")
	}
	chosen := resp.ChosenTime.UTC()
	resolved.ChosenTime = &chosen

	old := appt.Clone()
	old.Status = model.AppointmentStatusRescheduled
	old.UpdatedAt = now

	supersedes := appt.ID
	next := appt.Clone()
	next.Base = model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	next.Status = model.AppointmentStatusScheduled
	next.ScheduledTime = chosen
	next.RescheduleCount = appt.RescheduleCount + 1
	next.SupersedesID = &supersedes

	return &Outcome{Request: resolved, Superseded: old, Replacement: next}, nil
}

// Cancel withdraws a pending request. Only the requester may cancel, and the
// request is closed as REJECTED with the requester as resolver.
func (p *Protocol) Cancel(req *model.RescheduleRequest, by model.Actor) (*model.RescheduleRequest, error) {
	if req.RequestedByID != by.ID {
		return nil, apperrors.PermissionDenied(apperrors.ReasonNotOwner, string(req.Status), []string{string(req.RequestedByRole)})
	}
	if err := status.Reschedules.Validate(req.Status, model.RescheduleStatusRejected); err != nil {
		return nil, err
	}
	now := p.now()
	out := req.Clone()
	out.Status = model.RescheduleStatusRejected
	out.ResolvedByID = &by.ID
	out.ResolvedAt = &now
	out.UpdatedAt = now
	return out, nil
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
)

func (s *Service) requestReschedule(ctx context.Context, ch *change, proposal *model.RescheduleProposal) error {
	if ch.active == nil {
		return apperrors.Newf(apperrors.KindAppointmentNotReschedulable, "case %s has no active appointment", ch.prev.ID)
	}
	pending, err := s.pending(ctx, ch.active.ID)
	if err != nil {
		return err
	}
	req, err := s.reschedules.Request(ch.active, pending, proposal, ch.actor)
	if err != nil {
		return err
	}
	ch.reqCreate = req
	ch.rescheduleEvent(ch.actor, model.EventRescheduleRequested, req, "", model.JSONMap{
		"preferred_times": req.PreferredTimes,
	})
	s.metrics.Reschedules.WithLabelValues("requested").Inc()
	return nil
}

func (s *Service) respondReschedule(ctx context.Context, ch *change, p *model.Payload) error {
	if p.Response == nil {
		return apperrors.InvalidRequest("a reschedule response is required")
	}
	requestID := p.Response.RequestID
	if requestID == uuid.Nil && p.RequestID != nil {
		requestID = *p.RequestID
	}
	req, err := s.request(ctx, ch.prev.ID, requestID)
	if err != nil {
		return err
	}

	// The request's own appointment, which may already be superseded.
	appt, err := s.store.Appointments().Get(ctx, req.AppointmentID)
	if err != nil {
		return fmt.Errorf("load appointment %s: %w", req.AppointmentID, err)
	}

	out, err := s.reschedules.Respond(appt, req, p.Response, ch.actor)
	if err != nil {
		return err
	}
	ch.reqUpdates = append(ch.reqUpdates, out.Request)

	if out.Replacement == nil {
		ch.rescheduleEvent(ch.actor, model.EventRescheduleRejected, out.Request, string(req.Status), nil)
		s.metrics.Reschedules.WithLabelValues("rejected").Inc()
		return nil
	}

	ch.replaced = ch.updateAppointment(ch.actor, appt, model.AppointmentStatusRescheduled)
	ch.createAppointment(ch.actor, out.Replacement)
	ch.rescheduleEvent(ch.actor, model.EventRescheduleApproved, out.Request, string(req.Status), model.JSONMap{
		"chosen_time":        out.Replacement.ScheduledTime,
		"new_appointment_id": out.Replacement.ID.String(),
	})
	s.metrics.Reschedules.WithLabelValues("approved").Inc()
	return nil
}

func (s *Service) cancelReschedule(ctx context.Context, ch *change, requestID *uuid.UUID) error {
	if requestID == nil {
		return apperrors.InvalidRequest("request_id is required")
	}
	req, err := s.request(ctx, ch.prev.ID, *requestID)
	if err != nil {
		return err
	}
	out, err := s.reschedules.Cancel(req, ch.actor)
	if err != nil {
		return err
	}
	ch.reqUpdates = append(ch.reqUpdates, out)
	ch.rescheduleEvent(ch.actor, model.EventRescheduleRejected, out, string(req.Status), model.JSONMap{"withdrawn": true})
	s.metrics.Reschedules.WithLabelValues("withdrawn").Inc()
	return nil
}

// request loads a reschedule request belonging to caseID.
func (s *Service) request(ctx context.Context, caseID, requestID uuid.UUID) (*model.RescheduleRequest, error) {
	if requestID == uuid.Nil {
		return nil, apperrors.InvalidRequest("request_id is required")
	}
	req, err := s.store.Reschedules().Get(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("reschedule request", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load reschedule request: %w", err)
	}
	if req.CaseID != caseID {
		return nil, apperrors.NotFound("reschedule request", nil)
	}
	return req, nil
}

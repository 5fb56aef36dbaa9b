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

// Submit files a new case. Patients file for themselves; supervisors file
// for a patient they act for.
func (s *Service) Submit(ctx context.Context, actor model.Actor, req *model.NewCaseRequest) (*Result, error) {
	if req == nil {
		return nil, apperrors.InvalidRequest("case details are required")
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, apperrors.InvalidRequest(err.Error())
	}

	var owner uuid.UUID
	switch actor.Role {
	case model.RolePatient:
		if req.PatientID != nil && *req.PatientID != actor.ID {
			return nil, apperrors.PermissionDenied(apperrors.ReasonNotOwner, "", []string{string(model.RoleSupervisor)})
		}
		owner = actor.ID
	case model.RoleSupervisor:
		if req.PatientID == nil {
			return nil, apperrors.InvalidRequest("patient_id is required when filing for a patient")
		}
		if !actor.ActsFor(*req.PatientID) {
			return nil, apperrors.PermissionDenied(apperrors.ReasonNotOwner, "", []string{string(model.RoleSupervisor)})
		}
		owner = *req.PatientID
	default:
		return nil, apperrors.PermissionDenied(apperrors.ReasonWrongRole, "",
			[]string{string(model.RolePatient), string(model.RoleSupervisor)})
	}

	now := s.now().UTC()
	complexity := req.Complexity
	if complexity == "" {
		complexity = model.ComplexityModerate
	}
	c := &model.Case{
		Base:                   model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Status:                 model.CaseStatusSubmitted,
		Title:                  req.Title,
		Description:            req.Description,
		UrgencyLevel:           req.UrgencyLevel,
		Complexity:             complexity,
		RequiredSpecialization: req.RequiredSpecialization,
		OwnerPatientID:         owner,
		DependentID:            req.DependentID,
		StatusChangedAt:        now,
		Version:                1,
	}

	evt := model.DomainEvent{
		ID:         uuid.New(),
		Type:       model.EventCaseSubmitted,
		CaseID:     c.ID,
		ActorRole:  actor.Role,
		ActorID:    actor.ID,
		To:         string(c.Status),
		OccurredAt: now,
		Data: model.JSONMap{
			"owner_patient_id": owner.String(),
			"urgency_level":    c.UrgencyLevel,
		},
	}
	row, err := model.NewOutboxEvent(evt)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	err = s.store.WithTx(ctx, func(r repository.Repositories) error {
		if err := r.Cases().Create(ctx, c); err != nil {
			return fmt.Errorf("create case: %w", err)
		}
		return r.Outbox().Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues("SUBMIT", "ok").Inc()
	s.logger.Info("case submitted", "case_id", c.ID.String(), "actor_role", string(actor.Role))
	return &Result{Case: c, Events: []model.DomainEvent{evt}}, nil
}

// Snapshot is the current state of a case as one actor may see it.
type Snapshot struct {
	Case               *model.Case              `json:"case"`
	Appointment        *model.Appointment       `json:"appointment,omitempty"`
	PendingReschedule  *model.RescheduleRequest `json:"pending_reschedule,omitempty"`
	AvailableIntents   []model.Intent           `json:"available_intents"`
	InProgressEligible bool                     `json:"in_progress_eligible"`
}

// History holds every appointment, reschedule request and settlement of a
// case.
type History struct {
	Appointments []*model.Appointment       `json:"appointments"`
	Reschedules  []*model.RescheduleRequest `json:"reschedules"`
	Settlements  []*model.PaymentSettlement `json:"settlements"`
}

func canView(actor model.Actor, c *model.Case) bool {
	switch actor.Role {
	case model.RoleAdmin, model.RoleSystem:
		return true
	case model.RoleDoctor:
		return c.IsAssignedTo(actor.ID)
	case model.RolePatient, model.RoleSupervisor:
		return actor.ActsFor(c.OwnerPatientID)
	}
	return false
}

func (s *Service) visible(ctx context.Context, caseID uuid.UUID, actor model.Actor) (*model.Case, *model.Appointment, error) {
	c, appt, err := s.load(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	if !canView(actor, c) {
		return nil, nil, apperrors.PermissionDenied(apperrors.ReasonNotOwner, string(c.Status), nil)
	}
	return c, appt, nil
}

// Snapshot returns the case with its active appointment and the intents the
// actor may start next.
func (s *Service) Snapshot(ctx context.Context, caseID uuid.UUID, actor model.Actor) (*Snapshot, error) {
	c, appt, err := s.visible(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Case: c, Appointment: appt}
	if appt != nil {
		if snap.PendingReschedule, err = s.pending(ctx, appt.ID); err != nil {
			return nil, err
		}
	}
	snap.AvailableIntents = s.matrix.AvailableIntents(actor, c, appt, snap.PendingReschedule)
	snap.InProgressEligible = inProgressEligible(c, appt)
	return snap, nil
}

// AvailableIntents lists the intents actor may start on the case.
func (s *Service) AvailableIntents(ctx context.Context, caseID uuid.UUID, actor model.Actor) ([]model.Intent, error) {
	snap, err := s.Snapshot(ctx, caseID, actor)
	if err != nil {
		return nil, err
	}
	return snap.AvailableIntents, nil
}

func (s *Service) History(ctx context.Context, caseID uuid.UUID, actor model.Actor) (*History, error) {
	if _, _, err := s.visible(ctx, caseID, actor); err != nil {
		return nil, err
	}
	appts, err := s.store.Appointments().ListByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	reqs, err := s.store.Reschedules().ListByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list reschedules: %w", err)
	}
	h := &History{Appointments: appts, Reschedules: reqs, Settlements: []*model.PaymentSettlement{}}
	for _, a := range appts {
		st, err := s.store.Settlements().GetByAppointment(ctx, a.ID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load settlement: %w", err)
		}
		h.Settlements = append(h.Settlements, st)
	}
	return h, nil
}

// List returns the cases the actor may see, narrowed by filter.
func (s *Service) List(ctx context.Context, actor model.Actor, filter model.CaseFilter) ([]*model.Case, error) {
	switch actor.Role {
	case model.RolePatient:
		filter.PatientID = &actor.ID
	case model.RoleSupervisor:
		if filter.PatientID == nil {
			if len(actor.PatientIDs) != 1 {
				return nil, apperrors.InvalidRequest("patient_id is required")
			}
			filter.PatientID = &actor.PatientIDs[0]
		}
		if !actor.ActsFor(*filter.PatientID) {
			return nil, apperrors.PermissionDenied(apperrors.ReasonNotOwner, "", nil)
		}
	case model.RoleDoctor:
		filter.DoctorID = &actor.ID
	case model.RoleAdmin:
	default:
		return nil, apperrors.PermissionDenied(apperrors.ReasonWrongRole, "", []string{string(model.RoleAdmin)})
	}
	cases, err := s.store.Cases().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return cases, nil
}

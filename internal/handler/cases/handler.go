package cases

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/middleware"
	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/service/lifecycle"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
	"github.com/jwalitptl/consult-lifecycle/pkg/httputil"
	"github.com/jwalitptl/consult-lifecycle/pkg/validator"
)

// Lifecycle is the part of lifecycle.Service the handler uses.
type Lifecycle interface {
	Submit(ctx context.Context, actor model.Actor, req *model.NewCaseRequest) (*lifecycle.Result, error)
	Transition(ctx context.Context, caseID uuid.UUID, actor model.Actor, intent model.Intent, p *model.Payload) (*lifecycle.Result, error)
	Snapshot(ctx context.Context, caseID uuid.UUID, actor model.Actor) (*lifecycle.Snapshot, error)
	AvailableIntents(ctx context.Context, caseID uuid.UUID, actor model.Actor) ([]model.Intent, error)
	History(ctx context.Context, caseID uuid.UUID, actor model.Actor) (*lifecycle.History, error)
	List(ctx context.Context, actor model.Actor, filter model.CaseFilter) ([]*model.Case, error)
}

type Handler struct {
	service Lifecycle
}

func NewHandler(service Lifecycle) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the case routes. idempotent wraps the settlement
// route so a retried payment replays the first answer.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, idempotent gin.HandlerFunc) {
	cases := r.Group("/cases")
	{
		cases.POST("", h.Submit)
		cases.GET("", h.List)
		cases.GET("/:id", h.Get)
		cases.GET("/:id/appointments", h.History)
		cases.GET("/:id/actions", h.Actions)
		cases.POST("/:id/transitions", h.Transition)
		if idempotent != nil {
			cases.POST("/:id/settlement", idempotent, h.Settle)
		} else {
			cases.POST("/:id/settlement", h.Settle)
		}
		cases.POST("/:id/reschedules", h.RequestReschedule)
		cases.POST("/:id/reschedules/:requestId/respond", h.RespondReschedule)
		cases.DELETE("/:id/reschedules/:requestId", h.CancelReschedule)
	}
}

type transitionRequest struct {
	Intent model.Intent `json:"intent" binding:"required"`
	model.Payload
}

// listQuery holds the scalar filters; ids are parsed separately.
type listQuery struct {
	Status model.CaseStatus `form:"status"`
	model.Pagination
}

type settleRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
	model.SettlementRequest
}

type rescheduleRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
	model.RescheduleProposal
}

func (h *Handler) Submit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req model.NewCaseRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.service.Submit(c.Request.Context(), actor, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, res)
}

func (h *Handler) List(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httputil.RespondWithError(c, apperrors.InvalidRequest("invalid query: "+err.Error()))
		return
	}
	filter := model.CaseFilter{Status: q.Status, Pagination: q.Pagination}
	for name, dst := range map[string]**uuid.UUID{"patient_id": &filter.PatientID, "doctor_id": &filter.DoctorID} {
		if v := c.Query(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				httputil.RespondWithError(c, apperrors.InvalidRequest("invalid "+name))
				return
			}
			*dst = &id
		}
	}

	cases, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, cases)
}

func (h *Handler) Get(c *gin.Context) {
	actor, caseID, ok := h.target(c)
	if !ok {
		return
	}
	snap, err := h.service.Snapshot(c.Request.Context(), caseID, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, snap)
}

func (h *Handler) History(c *gin.Context) {
	actor, caseID, ok := h.target(c)
	if !ok {
		return
	}
	hist, err := h.service.History(c.Request.Context(), caseID, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, hist)
}

func (h *Handler) Actions(c *gin.Context) {
	actor, caseID, ok := h.target(c)
	if !ok {
		return
	}
	intents, err := h.service.AvailableIntents(c.Request.Context(), caseID, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"intents": intents})
}

func (h *Handler) Transition(c *gin.Context) {
	actor, caseID, ok := h.target(c)
	if !ok {
		return
	}
	var req transitionRequest
	if !bind(c, &req) {
		return
	}
	h.transition(c, caseID, actor, req.Intent, &req.Payload)
}

func (h *Handler) Settle(c *gin.Context) {
	actor, caseID, ok := h.target(c)
	if !ok {
		return
	}
	var req settleRequest
	if !bind(c, &req) {
		return
	}
	h.transition(c, caseID, actor, model.IntentSettle, &model.Payload{
		ExpectedVersion: req.ExpectedVersion,
		Settlement:      &req.SettlementRequest,
	})
}

func (h *Handler) RequestReschedule(c *gin.Context) {
	actor, caseID, ok := h.target(c)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !bind(c, &req) {
		return
	}
	h.transition(c, caseID, actor, model.IntentRequestReschedule, &model.Payload{
		ExpectedVersion: req.ExpectedVersion,
		Reschedule:      &req.RescheduleProposal,
	})
}

func (h *Handler) RespondReschedule(c *gin.Context) {
	actor, caseID, ok := h.target(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "requestId")
	if !ok {
		return
	}
	var req struct {
		ExpectedVersion int64 `json:"expected_version"`
		model.RescheduleResponse
	}
	if !bind(c, &req) {
		return
	}
	req.RequestID = requestID
	h.transition(c, caseID, actor, model.IntentRespondReschedule, &model.Payload{
		ExpectedVersion: req.ExpectedVersion,
		Response:        &req.RescheduleResponse,
		RequestID:       &requestID,
	})
}

func (h *Handler) CancelReschedule(c *gin.Context) {
	actor, caseID, ok := h.target(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "requestId")
	if !ok {
		return
	}
	var version int64
	if v := c.Query("expected_version"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httputil.RespondWithError(c, apperrors.InvalidRequest("invalid expected_version"))
			return
		}
		version = n
	}
	h.transition(c, caseID, actor, model.IntentCancelReschedule, &model.Payload{
		ExpectedVersion: version,
		RequestID:       &requestID,
	})
}

func (h *Handler) transition(c *gin.Context, caseID uuid.UUID, actor model.Actor, intent model.Intent, p *model.Payload) {
	res, err := h.service.Transition(c.Request.Context(), caseID, actor, intent, p)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, res)
}

func (h *Handler) actor(c *gin.Context) (model.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.Abort(c, http.StatusUnauthorized, "unauthenticated")
	}
	return actor, ok
}

func (h *Handler) target(c *gin.Context) (model.Actor, uuid.UUID, bool) {
	actor, ok := h.actor(c)
	if !ok {
		return model.Actor{}, uuid.Nil, false
	}
	caseID, ok := pathID(c, "id")
	return actor, caseID, ok
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithError(c, apperrors.InvalidRequest("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// bind decodes the JSON body into obj and answers 400 on failure.
func bind(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}
	var verr *validator.Error
	if errors.As(validator.Format(err), &verr) {
		httputil.RespondWithError(c, verr)
		return false
	}
	httputil.RespondWithError(c, apperrors.InvalidRequest("malformed request body: "+err.Error()))
	return false
}

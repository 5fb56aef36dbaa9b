package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-lifecycle/pkg/errors"
	"github.com/jwalitptl/consult-lifecycle/pkg/validator"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error carries the structured part of a lifecycle failure.
type Error struct {
	Kind          errors.Kind            `json:"kind,omitempty"`
	Reason        errors.DenyReason      `json:"reason,omitempty"`
	From          string                 `json:"from,omitempty"`
	To            string                 `json:"to,omitempty"`
	RequiredRoles []string               `json:"required_roles,omitempty"`
	Fields        []validator.FieldError `json:"fields,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{Status: "success", Data: data}
}

func NewErrorResponse(message string) *Response {
	return &Response{Status: "error", Message: message}
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, NewSuccessResponse(data))
}

// Abort ends the request with a plain error message.
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, NewErrorResponse(message))
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalidTransition,
		errors.KindConcurrentModification,
		errors.KindDuplicateSettlement,
		errors.KindAppointmentNotReschedulable,
		errors.KindExistingPendingRequest:
		return http.StatusConflict
	case errors.KindPermissionDenied:
		return http.StatusForbidden
	case errors.KindInvalidMethod,
		errors.KindCouponNotRedeemable,
		errors.KindCouponExpired,
		errors.KindAmountMismatch,
		errors.KindTooManyPreferredTimes:
		return http.StatusUnprocessableEntity
	case errors.KindSettlementTimeout:
		return http.StatusGatewayTimeout
	case errors.KindSettlementFailed:
		return http.StatusPaymentRequired
	case errors.KindInvalidRequest:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// RespondWithError sends an error response. Errors outside the lifecycle
// taxonomy are reported as internal errors without detail.
func RespondWithError(c *gin.Context, err error) {
	_ = c.Error(err)

	if verr, ok := err.(*validator.Error); ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, &Response{
			Status:  "error",
			Message: verr.Error(),
			Error:   &Error{Kind: errors.KindInvalidRequest, Fields: verr.Fields},
		})
		return
	}

	appErr, ok := errors.As(err)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, NewErrorResponse("Internal server error"))
		return
	}

	c.AbortWithStatusJSON(StatusFor(appErr.Kind), &Response{
		Status:  "error",
		Message: appErr.Error(),
		Error: &Error{
			Kind:          appErr.Kind,
			Reason:        appErr.Reason,
			From:          appErr.From,
			To:            appErr.To,
			RequiredRoles: appErr.RequiredRoles,
		},
	})
}

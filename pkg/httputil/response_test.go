package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-lifecycle/pkg/errors"
	"github.com/jwalitptl/consult-lifecycle/pkg/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func respond(err error) (*httptest.ResponseRecorder, Response) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	RespondWithError(c, err)

	var body Response
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestStatusFor(t *testing.T) {
	tests := map[errors.Kind]int{
		errors.KindInvalidTransition:           http.StatusConflict,
		errors.KindConcurrentModification:      http.StatusConflict,
		errors.KindDuplicateSettlement:         http.StatusConflict,
		errors.KindAppointmentNotReschedulable: http.StatusConflict,
		errors.KindExistingPendingRequest:      http.StatusConflict,
		errors.KindPermissionDenied:            http.StatusForbidden,
		errors.KindInvalidMethod:               http.StatusUnprocessableEntity,
		errors.KindCouponNotRedeemable:         http.StatusUnprocessableEntity,
		errors.KindCouponExpired:               http.StatusUnprocessableEntity,
		errors.KindAmountMismatch:              http.StatusUnprocessableEntity,
		errors.KindTooManyPreferredTimes:       http.StatusUnprocessableEntity,
		errors.KindSettlementTimeout:           http.StatusGatewayTimeout,
		errors.KindSettlementFailed:            http.StatusPaymentRequired,
		errors.KindInvalidRequest:              http.StatusBadRequest,
		errors.KindNotFound:                    http.StatusNotFound,
		errors.Kind(""):                        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), "kind %q", kind)
	}
}

func TestRespondWithError_PermissionDetail(t *testing.T) {
	err := fmt.Errorf("assign: %w", errors.PermissionDenied(errors.ReasonWrongRole, "PENDING", []string{"ADMIN"}))

	w, body := respond(err)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "error", body.Status)
	require.NotNil(t, body.Error)
	assert.Equal(t, errors.KindPermissionDenied, body.Error.Kind)
	assert.Equal(t, errors.ReasonWrongRole, body.Error.Reason)
	assert.Equal(t, "PENDING", body.Error.From)
	assert.Equal(t, []string{"ADMIN"}, body.Error.RequiredRoles)
}

func TestRespondWithError_TransitionDetail(t *testing.T) {
	w, body := respond(errors.InvalidTransition("SUBMITTED", "CLOSED"))

	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "SUBMITTED", body.Error.From)
	assert.Equal(t, "CLOSED", body.Error.To)
}

func TestRespondWithError_HidesInfrastructureErrors(t *testing.T) {
	w, body := respond(fmt.Errorf("load case: %w", fmt.Errorf("pq: connection refused")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", body.Message)
	assert.Nil(t, body.Error)
}

func TestRespondWithError_ValidationFields(t *testing.T) {
	type payload struct {
		Title string `json:"title" validate:"required"`
	}
	err := validator.New().Validate(&payload{})

	w, body := respond(err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, body.Error)
	require.Len(t, body.Error.Fields, 1)
	assert.Equal(t, "title", body.Error.Fields[0].Field)
}

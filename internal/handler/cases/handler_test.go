package cases

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-lifecycle/internal/middleware"
	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/service/lifecycle"
	apperrors "github.com/jwalitptl/consult-lifecycle/pkg/errors"
	"github.com/jwalitptl/consult-lifecycle/pkg/validator"
)

type mockLifecycle struct {
	mock.Mock
}

func (m *mockLifecycle) Submit(ctx context.Context, actor model.Actor, req *model.NewCaseRequest) (*lifecycle.Result, error) {
	args := m.Called(ctx, actor, req)
	res, _ := args.Get(0).(*lifecycle.Result)
	return res, args.Error(1)
}

func (m *mockLifecycle) Transition(ctx context.Context, caseID uuid.UUID, actor model.Actor, intent model.Intent, p *model.Payload) (*lifecycle.Result, error) {
	args := m.Called(ctx, caseID, actor, intent, p)
	res, _ := args.Get(0).(*lifecycle.Result)
	return res, args.Error(1)
}

func (m *mockLifecycle) Snapshot(ctx context.Context, caseID uuid.UUID, actor model.Actor) (*lifecycle.Snapshot, error) {
	args := m.Called(ctx, caseID, actor)
	res, _ := args.Get(0).(*lifecycle.Snapshot)
	return res, args.Error(1)
}

func (m *mockLifecycle) AvailableIntents(ctx context.Context, caseID uuid.UUID, actor model.Actor) ([]model.Intent, error) {
	args := m.Called(ctx, caseID, actor)
	res, _ := args.Get(0).([]model.Intent)
	return res, args.Error(1)
}

func (m *mockLifecycle) History(ctx context.Context, caseID uuid.UUID, actor model.Actor) (*lifecycle.History, error) {
	args := m.Called(ctx, caseID, actor)
	res, _ := args.Get(0).(*lifecycle.History)
	return res, args.Error(1)
}

func (m *mockLifecycle) List(ctx context.Context, actor model.Actor, filter model.CaseFilter) ([]*model.Case, error) {
	args := m.Called(ctx, actor, filter)
	res, _ := args.Get(0).([]*model.Case)
	return res, args.Error(1)
}

var patient = model.Actor{Role: model.RolePatient, ID: uuid.New()}

func setupRouter(svc Lifecycle, actor *model.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator.RegisterGinEngine()
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if actor != nil {
			c.Set(middleware.ContextActor, *actor)
		}
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), nil)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind   string `json:"kind"`
		Reason string `json:"reason"`
		From   string `json:"from"`
		To     string `json:"to"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestSubmit_Created(t *testing.T) {
	svc := new(mockLifecycle)
	caseID := uuid.New()
	svc.On("Submit", mock.Anything, patient, mock.MatchedBy(func(req *model.NewCaseRequest) bool {
		return req.Title == "Persistent cough" && req.UrgencyLevel == model.UrgencyLevel("HIGH")
	})).Return(&lifecycle.Result{Case: &model.Case{Base: model.Base{ID: caseID}}}, nil)

	w := doJSON(setupRouter(svc, &patient), http.MethodPost, "/api/v1/cases", map[string]interface{}{
		"title":         "Persistent cough",
		"urgency_level": "HIGH",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	env := decode(t, w)
	assert.Equal(t, "success", env.Status)
	assert.Contains(t, string(env.Data), caseID.String())
	svc.AssertExpectations(t)
}

func TestSubmit_ValidationFailureNamesFields(t *testing.T) {
	svc := new(mockLifecycle)

	w := doJSON(setupRouter(svc, &patient), http.MethodPost, "/api/v1/cases", map[string]interface{}{
		"urgency_level": "SOMEDAY",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "InvalidRequest", env.Error.Kind)
	var fields []string
	for _, f := range env.Error.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"title", "urgency_level"}, fields)
	svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequiresActor(t *testing.T) {
	svc := new(mockLifecycle)

	w := doJSON(setupRouter(svc, nil), http.MethodGet, "/api/v1/cases", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTransition_PassesIntentAndPayload(t *testing.T) {
	svc := new(mockLifecycle)
	caseID := uuid.New()
	doctorID := uuid.New()
	admin := model.Actor{Role: model.RoleAdmin, ID: uuid.New()}
	svc.On("Transition", mock.Anything, caseID, admin, model.IntentAssign, mock.MatchedBy(func(p *model.Payload) bool {
		return p.ExpectedVersion == 3 && p.DoctorID != nil && *p.DoctorID == doctorID
	})).Return(&lifecycle.Result{Case: &model.Case{Base: model.Base{ID: caseID}}}, nil)

	w := doJSON(setupRouter(svc, &admin), http.MethodPost, "/api/v1/cases/"+caseID.String()+"/transitions", map[string]interface{}{
		"intent":           "ASSIGN",
		"expected_version": 3,
		"doctor_id":        doctorID,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestTransition_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"illegal edge", apperrors.InvalidTransition("SUBMITTED", "CLOSED"), http.StatusConflict, "InvalidTransition"},
		{"wrong role", apperrors.PermissionDenied(apperrors.ReasonWrongRole, "PENDING", []string{"ADMIN"}), http.StatusForbidden, "PermissionDenied"},
		{"lost race", apperrors.ConcurrentModification("case is being modified", nil), http.StatusConflict, "ConcurrentModification"},
		{"unknown case", apperrors.NotFound("case", nil), http.StatusNotFound, "NotFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockLifecycle)
			caseID := uuid.New()
			svc.On("Transition", mock.Anything, caseID, patient, model.IntentClose, mock.Anything).Return(nil, tt.err)

			w := doJSON(setupRouter(svc, &patient), http.MethodPost, "/api/v1/cases/"+caseID.String()+"/transitions", map[string]interface{}{
				"intent": "CLOSE",
			})

			assert.Equal(t, tt.status, w.Code)
			env := decode(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.kind, env.Error.Kind)
		})
	}
}

func TestTransition_InvalidCaseID(t *testing.T) {
	svc := new(mockLifecycle)

	w := doJSON(setupRouter(svc, &patient), http.MethodPost, "/api/v1/cases/not-a-uuid/transitions", map[string]interface{}{
		"intent": "TRIAGE",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettle_BuildsSettlementPayload(t *testing.T) {
	svc := new(mockLifecycle)
	caseID := uuid.New()
	svc.On("Transition", mock.Anything, caseID, patient, model.IntentSettle, mock.MatchedBy(func(p *model.Payload) bool {
		return p.Settlement != nil &&
			p.Settlement.PaymentMethod == model.PaymentMethod("CARD") &&
			p.Settlement.Amount == model.Money(5000) &&
			p.Settlement.MethodToken == "tok_visa"
	})).Return(&lifecycle.Result{}, nil)

	w := doJSON(setupRouter(svc, &patient), http.MethodPost, "/api/v1/cases/"+caseID.String()+"/settlement", map[string]interface{}{
		"payment_method": "CARD",
		"method_token":   "tok_visa",
		"amount":         5000,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestSettle_TimeoutIsGatewayTimeout(t *testing.T) {
	svc := new(mockLifecycle)
	caseID := uuid.New()
	svc.On("Transition", mock.Anything, caseID, patient, model.IntentSettle, mock.Anything).
		Return(nil, apperrors.SettlementTimeout(context.DeadlineExceeded))

	w := doJSON(setupRouter(svc, &patient), http.MethodPost, "/api/v1/cases/"+caseID.String()+"/settlement", map[string]interface{}{
		"payment_method": "CARD",
		"amount":         5000,
	})

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestRespondReschedule_TakesRequestFromPath(t *testing.T) {
	svc := new(mockLifecycle)
	caseID := uuid.New()
	requestID := uuid.New()
	doctor := model.Actor{Role: model.RoleDoctor, ID: uuid.New()}
	svc.On("Transition", mock.Anything, caseID, doctor, model.IntentRespondReschedule, mock.MatchedBy(func(p *model.Payload) bool {
		return p.Response != nil &&
			p.Response.RequestID == requestID &&
			p.Response.Decision == model.RescheduleDecision("REJECT") &&
			p.RequestID != nil && *p.RequestID == requestID
	})).Return(&lifecycle.Result{}, nil)

	w := doJSON(setupRouter(svc, &doctor), http.MethodPost,
		"/api/v1/cases/"+caseID.String()+"/reschedules/"+requestID.String()+"/respond",
		map[string]interface{}{"decision": "REJECT"})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestCancelReschedule_ReadsExpectedVersion(t *testing.T) {
	svc := new(mockLifecycle)
	caseID := uuid.New()
	requestID := uuid.New()
	svc.On("Transition", mock.Anything, caseID, patient, model.IntentCancelReschedule, mock.MatchedBy(func(p *model.Payload) bool {
		return p.ExpectedVersion == 7 && p.RequestID != nil && *p.RequestID == requestID
	})).Return(&lifecycle.Result{}, nil)

	w := doJSON(setupRouter(svc, &patient), http.MethodDelete,
		"/api/v1/cases/"+caseID.String()+"/reschedules/"+requestID.String()+"?expected_version=7", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestList_BindsFilter(t *testing.T) {
	svc := new(mockLifecycle)
	doctorID := uuid.New()
	svc.On("List", mock.Anything, patient, mock.MatchedBy(func(f model.CaseFilter) bool {
		return f.Status == model.CaseStatus("SCHEDULED") && f.Limit == 10 &&
			f.DoctorID != nil && *f.DoctorID == doctorID && f.PatientID == nil
	})).Return([]*model.Case{}, nil)

	w := doJSON(setupRouter(svc, &patient), http.MethodGet,
		"/api/v1/cases?status=SCHEDULED&limit=10&doctor_id="+doctorID.String(), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestList_RejectsMalformedID(t *testing.T) {
	svc := new(mockLifecycle)

	w := doJSON(setupRouter(svc, &patient), http.MethodGet, "/api/v1/cases?patient_id=42", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestActions_ListsIntents(t *testing.T) {
	svc := new(mockLifecycle)
	caseID := uuid.New()
	svc.On("AvailableIntents", mock.Anything, caseID, patient).
		Return([]model.Intent{model.IntentSettle, model.IntentRequestReschedule}, nil)

	w := doJSON(setupRouter(svc, &patient), http.MethodGet, "/api/v1/cases/"+caseID.String()+"/actions", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"intents":["SETTLE","REQUEST_RESCHEDULE"]}`, string(decode(t, w).Data))
}

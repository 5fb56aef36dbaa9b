package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-lifecycle/pkg/circuitbreaker"
)

func TestHTTPProcessor_Charge(t *testing.T) {
	apptID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "settle-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ChargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, apptID, req.AppointmentID)
		assert.Equal(t, int64(5000), req.Amount)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transaction_ref":"txn_123","status":"succeeded"}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "secret"}, srv.Client())
	res, err := p.Charge(context.Background(), ChargeRequest{
		IdempotencyKey: "settle-1",
		AppointmentID:  apptID,
		Method:         "CARD",
		Token:          "tok_visa",
		Amount:         5000,
		Currency:       "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn_123", res.TransactionRef)
}

func TestHTTPProcessor_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"code":"card_declined","message":"insufficient funds"}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(HTTPConfig{
		BaseURL: srv.URL,
		Breaker: circuitbreaker.Settings{ConsecutiveFailures: 1, Timeout: time.Hour},
	}, srv.Client())

	for i := 0; i < 3; i++ {
		_, err := p.Charge(context.Background(), ChargeRequest{Amount: 100})
		assert.ErrorIs(t, err, ErrDeclined)
	}
}

func TestHTTPProcessor_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProcessor(HTTPConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, srv.Client())
	_, err := p.Charge(context.Background(), ChargeRequest{Amount: 100})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestHTTPProcessor_BreakerOpensOnOutage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(HTTPConfig{
		BaseURL: srv.URL,
		Breaker: circuitbreaker.Settings{ConsecutiveFailures: 2, Timeout: time.Hour},
	}, srv.Client())

	for i := 0; i < 2; i++ {
		_, err := p.Charge(context.Background(), ChargeRequest{Amount: 100})
		require.Error(t, err)
	}
	_, err := p.Charge(context.Background(), ChargeRequest{Amount: 100})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, calls)
}

func TestHTTPProcessor_Refund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		assert.Equal(t, "refund-txn_9", r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(HTTPConfig{BaseURL: srv.URL}, srv.Client())
	assert.NoError(t, p.Refund(context.Background(), "txn_9"))
}

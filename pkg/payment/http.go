package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jwalitptl/consult-lifecycle/pkg/circuitbreaker"
)

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single call when ctx carries no earlier deadline.
	Timeout time.Duration
	Breaker circuitbreaker.Settings
}

// HTTPProcessor is a JSON-over-HTTP Processor guarded by a circuit breaker.
type HTTPProcessor struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
}

func NewHTTPProcessor(cfg HTTPConfig, client *http.Client) *HTTPProcessor {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	bs := cfg.Breaker
	if bs.Name == "" {
		bs.Name = "payment-processor"
	}
	if bs.Timeout == 0 {
		bs.Timeout = 30 * time.Second
	}
	// A decline is a business answer, not an outage.
	bs.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrDeclined)
	}
	return &HTTPProcessor{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client:  client,
		cb:      circuitbreaker.NewCircuitBreaker(bs),
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *HTTPProcessor) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var result ChargeResult
	err := p.cb.Execute(func() error {
		return p.post(ctx, "/charges", req.IdempotencyKey, req, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *HTTPProcessor) Refund(ctx context.Context, transactionRef string) error {
	body := map[string]string{"transaction_ref": transactionRef}
	return p.cb.Execute(func() error {
		return p.post(ctx, "/refunds", "refund-"+transactionRef, body, nil)
	})
}

func (p *HTTPProcessor) post(ctx context.Context, path, idempotencyKey string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("payment request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		return fmt.Errorf("%w: %s", ErrDeclined, apiErr.Message)
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return ErrTimeout
	case resp.StatusCode >= 300:
		return fmt.Errorf("payment processor returned %d", resp.StatusCode)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

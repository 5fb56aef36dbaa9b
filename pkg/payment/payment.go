// Package payment talks to the external payment processor used for card and
// wallet settlements.
package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrTimeout means the processor did not answer before the deadline. The
	// charge may or may not have happened.
	ErrTimeout = errors.New("payment: processor timeout")
	// ErrDeclined means the processor refused the charge.
	ErrDeclined = errors.New("payment: charge declined")
)

type ChargeRequest struct {
	// IdempotencyKey lets the processor collapse retries of one charge.
	IdempotencyKey string    `json:"-"`
	AppointmentID  uuid.UUID `json:"appointment_id"`
	Method         string    `json:"method"`
	Token          string    `json:"token"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
}

type ChargeResult struct {
	TransactionRef string `json:"transaction_ref"`
	Status         string `json:"status"`
}

type Processor interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, transactionRef string) error
}

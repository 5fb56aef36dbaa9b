package model

import (
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodWallet PaymentMethod = "WALLET"
	PaymentMethodCoupon PaymentMethod = "COUPON"
)

type PaymentSettlement struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	AppointmentID  uuid.UUID     `db:"appointment_id" json:"appointment_id"`
	CaseID         uuid.UUID     `db:"case_id" json:"case_id"`
	Method         PaymentMethod `db:"method" json:"method"`
	Amount         Money         `db:"amount" json:"amount"`
	Currency       string        `db:"currency" json:"currency"`
	CouponCode     *string       `db:"coupon_code" json:"coupon_code,omitempty"`
	TransactionRef *string       `db:"transaction_ref" json:"transaction_ref,omitempty"`
	SettledByID    uuid.UUID     `db:"settled_by_id" json:"settled_by_id"`
	SettledAt      time.Time     `db:"settled_at" json:"settled_at"`
}

// SettlementRequest carries exactly one of a charge method or a coupon code.
type SettlementRequest struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
	MethodToken   string        `json:"method_token"`
	Amount        Money         `json:"amount"`
	CouponCode    string        `json:"coupon_code"`
}

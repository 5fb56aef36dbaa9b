package model

import (
	"time"

	"github.com/google/uuid"
)

type CouponStatus string

const (
	CouponStatusAvailable CouponStatus = "AVAILABLE"
	CouponStatusRedeemed  CouponStatus = "REDEEMED"
	CouponStatusExpired   CouponStatus = "EXPIRED"
)

type Coupon struct {
	Code                  string       `db:"code" json:"code"`
	PatientID             uuid.UUID    `db:"patient_id" json:"patient_id"`
	Value                 Money        `db:"value" json:"value"`
	Status                CouponStatus `db:"status" json:"status"`
	ExpiresAt             *time.Time   `db:"expires_at" json:"expires_at,omitempty"`
	RedeemedAt            *time.Time   `db:"redeemed_at" json:"redeemed_at,omitempty"`
	RedeemedAppointmentID *uuid.UUID   `db:"redeemed_appointment_id" json:"redeemed_appointment_id,omitempty"`
	CreatedAt             time.Time    `db:"created_at" json:"created_at"`
}

// ExpiredAt reports whether the coupon is expired at the given instant.
func (c *Coupon) ExpiredAt(now time.Time) bool {
	if c.Status == CouponStatusExpired {
		return true
	}
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a lifecycle failure so callers can branch on it without
// parsing messages.
type Kind string

const (
	KindInvalidTransition           Kind = "InvalidTransition"
	KindPermissionDenied            Kind = "PermissionDenied"
	KindConcurrentModification      Kind = "ConcurrentModification"
	KindInvalidMethod               Kind = "InvalidMethod"
	KindCouponNotRedeemable         Kind = "CouponNotRedeemable"
	KindCouponExpired               Kind = "CouponExpired"
	KindAmountMismatch              Kind = "AmountMismatch"
	KindDuplicateSettlement         Kind = "DuplicateSettlement"
	KindSettlementTimeout           Kind = "SettlementTimeout"
	KindSettlementFailed            Kind = "SettlementFailed"
	KindAppointmentNotReschedulable Kind = "AppointmentNotReschedulable"
	KindTooManyPreferredTimes       Kind = "TooManyPreferredTimes"
	KindExistingPendingRequest      Kind = "ExistingPendingRequest"
	KindInvalidRequest              Kind = "InvalidRequest"
	KindNotFound                    Kind = "NotFound"
)

// DenyReason explains a PermissionDenied error.
type DenyReason string

const (
	ReasonNotOwner         DenyReason = "NotOwner"
	ReasonWrongRole        DenyReason = "WrongRole"
	ReasonIllegalFromState DenyReason = "IllegalFromState"
)

// Error is the structured error returned by every lifecycle operation.
type Error struct {
	Kind          Kind       `json:"kind"`
	Message       string     `json:"message"`
	Reason        DenyReason `json:"reason,omitempty"`
	From          string     `json:"from,omitempty"`
	To            string     `json:"to,omitempty"`
	RequiredRoles []string   `json:"required_roles,omitempty"`
	Err           error      `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinel comparisons such as
// errors.Is(err, ErrConcurrentModification) work on detailed errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidTransition           = &Error{Kind: KindInvalidTransition}
	ErrPermissionDenied            = &Error{Kind: KindPermissionDenied}
	ErrConcurrentModification      = &Error{Kind: KindConcurrentModification}
	ErrInvalidMethod               = &Error{Kind: KindInvalidMethod}
	ErrCouponNotRedeemable         = &Error{Kind: KindCouponNotRedeemable}
	ErrCouponExpired               = &Error{Kind: KindCouponExpired}
	ErrAmountMismatch              = &Error{Kind: KindAmountMismatch}
	ErrDuplicateSettlement         = &Error{Kind: KindDuplicateSettlement}
	ErrSettlementTimeout           = &Error{Kind: KindSettlementTimeout}
	ErrSettlementFailed            = &Error{Kind: KindSettlementFailed}
	ErrAppointmentNotReschedulable = &Error{Kind: KindAppointmentNotReschedulable}
	ErrTooManyPreferredTimes       = &Error{Kind: KindTooManyPreferredTimes}
	ErrExistingPendingRequest      = &Error{Kind: KindExistingPendingRequest}
	ErrInvalidRequest              = &Error{Kind: KindInvalidRequest}
	ErrNotFound                    = &Error{Kind: KindNotFound}
)

// KindOf returns the kind of the first *Error in err's chain, or "" when the
// chain holds none (storage and other infrastructure failures).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Error constructors

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("%s -> %s is not a legal transition", from, to),
		From:    from,
		To:      to,
	}
}

func PermissionDenied(reason DenyReason, from string, requiredRoles []string) *Error {
	return &Error{
		Kind:          KindPermissionDenied,
		Message:       string(reason),
		Reason:        reason,
		From:          from,
		RequiredRoles: requiredRoles,
	}
}

func ConcurrentModification(message string, err error) *Error {
	return &Error{Kind: KindConcurrentModification, Message: message, Err: err}
}

func InvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

func NotFound(resource string, err error) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func SettlementTimeout(err error) *Error {
	return &Error{Kind: KindSettlementTimeout, Message: "payment processor did not answer in time", Err: err}
}

func SettlementFailed(err error) *Error {
	return &Error{Kind: KindSettlementFailed, Message: "payment processor rejected the charge", Err: err}
}

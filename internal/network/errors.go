package network

import (
	"errors"
	"fmt"
)

// Kind classifies failures at the operation boundary.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindStateConflict     Kind = "state_conflict"
	KindResourceExhausted Kind = "resource_exhausted"
	KindInternal          Kind = "internal"
)

// Error is a typed business failure. Code is stable for clients, Message is human readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches on Code so wrapped copies with a different message still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidInput         = newError(KindValidation, "invalid_input", "invalid input")
	ErrHandleTaken          = newError(KindValidation, "handle_taken", "handle already taken")
	ErrNotEntryOwner        = newError(KindValidation, "not_entry_owner", "entry does not belong to the approver")
	ErrWrongEntry           = newError(KindValidation, "wrong_entry", "entry cannot be approved by this operation")
	ErrIsAdmin              = newError(KindValidation, "is_admin", "admin accounts do not take part in this flow")
	ErrAccountNotFound      = newError(KindNotFound, "account_not_found", "account not found")
	ErrEntryNotFound        = newError(KindNotFound, "entry_not_found", "ledger entry not found")
	ErrTierNotFound         = newError(KindNotFound, "tier_not_found", "tier not found")
	ErrPairedEntryMissing   = newError(KindNotFound, "paired_entry_missing", "paired ledger entry is missing")
	ErrAlreadyApproved      = newError(KindStateConflict, "already_approved", "payment already approved")
	ErrEntryFailed          = newError(KindStateConflict, "entry_failed", "payment has expired")
	ErrNoUpline             = newError(KindStateConflict, "no_upline", "account has no upline")
	ErrQuotaNotReached      = newError(KindStateConflict, "quota_not_reached", "required members not reached")
	ErrMaxTier              = newError(KindStateConflict, "max_tier", "maximum tier reached")
	ErrSubscriptionNotDue   = newError(KindStateConflict, "subscription_not_due", "subscription is not due")
	ErrSubscriptionRequired = newError(KindStateConflict, "subscription_required", "subscription payment required")
	ErrNoAvailableUpline    = newError(KindResourceExhausted, "no_available_upline", "no upline available for placement")
	ErrNoAdmin              = newError(KindResourceExhausted, "no_admin", "no admin account available")
	ErrContention           = newError(KindInternal, "contention", "too many concurrent updates, retry")
)

// Invalid returns a validation failure carrying a specific message.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: ErrInvalidInput.Code, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Anything that is not a business failure is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code for err, "internal" for unclassified errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrForbidden            = errors.New("forbidden")

	ErrSlotUnavailable     = errors.New("slot unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidState        = errors.New("invalid state")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrProviderError       = errors.New("payment provider error")
	// ErrProviderRejected marks processor 4xx responses; it also matches ErrProviderError.
	ErrProviderRejected = errors.New("payment provider rejected request")
	// ErrInconsistent means a compensation step did not apply and state needs manual reconciliation.
	ErrInconsistent = errors.New("inconsistent state")
)

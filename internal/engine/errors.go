package engine

import (
	"context"
	"fmt"

	"github.com/roach88/remsync/internal/credential"
	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/reminder"
	"github.com/roach88/remsync/internal/transport"
)

// CycleError is a failed reconciliation cycle, as reported to sinks and
// the journal.
type CycleError struct {
	// Code identifies the error category.
	Code CycleErrorCode

	// Message is a human-readable description.
	Message string

	JobID   string
	CycleID string

	// Err is the underlying cause.
	Err error
}

// CycleErrorCode categorizes cycle failures.
type CycleErrorCode string

const (
	// ErrCodeCredentialUnavailable: no session token appeared within the wait.
	ErrCodeCredentialUnavailable CycleErrorCode = "CREDENTIAL_UNAVAILABLE"

	// ErrCodeTransportExhausted: the call failed on every attempt.
	ErrCodeTransportExhausted CycleErrorCode = "TRANSPORT_EXHAUSTED"

	// ErrCodeProtocol: a success response was not parseable.
	ErrCodeProtocol CycleErrorCode = "PROTOCOL_ERROR"

	// ErrCodeUnexpectedShape: a response parsed but lacked required fields.
	ErrCodeUnexpectedShape CycleErrorCode = "UNEXPECTED_RESPONSE_SHAPE"

	// ErrCodeValidation: the triggering value was rejected.
	ErrCodeValidation CycleErrorCode = "VALIDATION"

	// ErrCodeTimeout: the cycle ran past its deadline.
	ErrCodeTimeout CycleErrorCode = "TIMEOUT"

	ErrCodeInternal CycleErrorCode = "INTERNAL"
)

// Error implements the error interface.
func (e *CycleError) Error() string {
	if e.CycleID != "" {
		return fmt.Sprintf("%s: %s (job=%s, cycle=%s)", e.Code, e.Message, e.JobID, e.CycleID)
	}
	return fmt.Sprintf("%s: %s (job=%s)", e.Code, e.Message, e.JobID)
}

func (e *CycleError) Unwrap() error { return e.Err }

// Classify maps err to its code. Credential failures are checked before
// deadlines since an abandoned credential wait also carries the context
// error.
func Classify(err error) CycleErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, credential.ErrUnavailable):
		return ErrCodeCredentialUnavailable
	case errors.Is(err, ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, reminder.ErrUnexpectedResponseShape):
		return ErrCodeUnexpectedShape
	case errors.Is(err, transport.ErrProtocol):
		return ErrCodeProtocol
	case errors.Is(err, transport.ErrExhausted):
		return ErrCodeTransportExhausted
	case errors.IsAny(err, context.DeadlineExceeded, context.Canceled):
		return ErrCodeTimeout
	default:
		return ErrCodeInternal
	}
}

// NewCycleError wraps err as a CycleError for jobID.
func NewCycleError(jobID, cycleID string, err error) *CycleError {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce
	}
	return &CycleError{
		Code:    Classify(err),
		Message: err.Error(),
		JobID:   jobID,
		CycleID: cycleID,
		Err:     err,
	}
}

// IsCredentialError returns true if err is a credential outage.
func IsCredentialError(err error) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeCredentialUnavailable
	}
	return errors.Is(err, credential.ErrUnavailable)
}

package generation

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates the provider did not answer within the call deadline.
	ErrTimeout = errors.New("provider timeout")

	// ErrQuotaExceeded indicates a rate or quota limit, local or remote.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrProvider indicates any other provider-side failure.
	ErrProvider = errors.New("provider error")
)

// Error is a classified provider failure.
type Error struct {
	// Kind is one of ErrTimeout, ErrQuotaExceeded, ErrProvider.
	Kind     error
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports that every provider failure may be retried.
func (e *Error) Retryable() bool { return true }

func newError(kind error, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) error {
	switch {
	case status == 429:
		return ErrQuotaExceeded
	case status == 408 || status == 504:
		return ErrTimeout
	default:
		return ErrProvider
	}
}

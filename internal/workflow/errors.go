package workflow

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the machine-readable category of a workflow error.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindStageTransient     Kind = "stage_transient"
	KindStageFatal         Kind = "stage_fatal"
	KindIndexingFailure    Kind = "indexing_failure"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindEmptyDraft         Kind = "empty_draft"
)

// ErrNoFinalDraft is returned when every stage ran but none produced a final
// draft.
var ErrNoFinalDraft = errors.New("pipeline finished without a final draft")

// ErrInvariant marks a state invariant violation.
var ErrInvariant = errors.New("state invariant violated")

// Error is a classified workflow failure.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg += " in " + e.Stage
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the engine may retry the failed stage.
func (e *Error) Retryable() bool { return e.Kind == KindStageTransient }

// ValidationError reports bad caller input.
func ValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// EmptyDraftError reports a regeneration request with nothing to work on.
func EmptyDraftError(msg string) *Error {
	return &Error{Kind: KindEmptyDraft, Message: msg}
}

// TransientError reports a stage failure worth retrying.
func TransientError(stage, msg string, err error) *Error {
	return &Error{Kind: KindStageTransient, Stage: stage, Message: msg, Err: err}
}

// FatalError reports a stage failure that aborts the run.
func FatalError(stage, msg string, err error) *Error {
	return &Error{Kind: KindStageFatal, Stage: stage, Message: msg, Err: err}
}

// StorageError reports that the persistence layer could not be reached.
func StorageError(msg string, err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

type retryable interface {
	Retryable() bool
}

// isRetryable classifies a stage failure. Provider timeouts, quota and
// provider errors, transient stage errors and stage deadlines are retryable
// while the run's own context is still live. Everything else is fatal.
func isRetryable(runCtx context.Context, err error) bool {
	if runCtx.Err() != nil {
		return false
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Retryable()
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// asFatal converts err into the error returned from a failed run. Validation
// and storage errors keep their kind.
func asFatal(stage string, err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		switch we.Kind {
		case KindValidation, KindEmptyDraft, KindStorageUnavailable, KindStageFatal:
			out := *we
			if out.Stage == "" {
				out.Stage = stage
			}
			return &out
		}
	}
	return FatalError(stage, "", err)
}

func invariantError(stage, format string, args ...any) *Error {
	return FatalError(stage, fmt.Sprintf(format, args...), ErrInvariant)
}

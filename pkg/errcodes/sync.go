package errcodes

import (
	"net/http"

	"github.com/pkg/errors"
)

// SyncError is the error taxonomy for the synchronization engine. Unlike
// Error, these are classified for retry and escalation behavior rather than
// HTTP status mapping.
type SyncError struct {
	Code      string
	Message   string
	retryable bool
}

func (err *SyncError) Error() string {
	return err.Message
}

func (err *SyncError) Is(target error) bool {
	te, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return te.Code == err.Code
}

// ProviderUnavailable indicates the remote storage provider could not be
// reached or rejected the request (network, auth, rate limit). Retryable.
func ProviderUnavailable(msg string) error {
	return &SyncError{Code: "provider_unavailable", Message: msg, retryable: true}
}

// ExtractionFailed indicates metadata extraction failed for one file. Never
// fatal to a run.
func ExtractionFailed(msg string) error {
	return &SyncError{Code: "extraction_failed", Message: msg}
}

// PersistenceFailed indicates a library store write failed.
func PersistenceFailed(msg string) error {
	return &SyncError{Code: "persistence_failed", Message: msg, retryable: true}
}

// InvalidStateTransition indicates an illegal sync job status transition.
// This is a programming defect, not a retry target.
func InvalidStateTransition(from, to string) error {
	return &SyncError{
		Code:    "invalid_state_transition",
		Message: "Invalid sync job transition from " + from + " to " + to + ".",
	}
}

// CursorMissing indicates an incremental sync was requested without a stored
// cursor. Callers escalate to a full sync rather than failing.
func CursorMissing() error {
	return &SyncError{Code: "cursor_missing", Message: "No sync cursor stored for provider."}
}

// NetworkRestricted indicates the configured network constraint, such as
// unmetered-only mode, currently forbids syncing.
func NetworkRestricted() error {
	return &SyncError{Code: "network_restricted", Message: "Network constraints forbid syncing right now."}
}

// Retryable reports whether the error warrants another attempt for the same
// work item. Errors outside the sync taxonomy default to retryable; only a
// classified permanent error, like a failed extraction of corrupt bytes,
// skips the backoff cycle.
func Retryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.retryable
	}
	return true
}

// IsInvalidStateTransition reports whether err is a state machine violation.
func IsInvalidStateTransition(err error) bool {
	return errors.Is(err, &SyncError{Code: "invalid_state_transition"})
}

// IsCursorMissing reports whether err is a missing-cursor condition.
func IsCursorMissing(err error) bool {
	return errors.Is(err, &SyncError{Code: "cursor_missing"})
}

// HTTPError maps a sync error to the HTTP error surface, for handlers that
// bubble engine errors out of the API.
func HTTPError(err error) error {
	var se *SyncError
	if !errors.As(err, &se) {
		return err
	}
	return &Error{http.StatusConflict, se.Message, se.Code}
}

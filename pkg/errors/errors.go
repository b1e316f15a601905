// Package errors defines the application error taxonomy.
//
// Errors are classified along two axes: a Category that groups errors by
// where they originate (upstream connectivity, upstream protocol, leg data,
// manual actions, store, internal) and a Code that identifies the specific
// failure within the category. The sync path treats connectivity errors as
// transient (retried with backoff) and protocol errors as permanent
// (recorded immediately, never retried).
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by origin.
type ErrorCategory string

const (
	// CategoryConnectivity covers transient upstream failures: timeouts,
	// refused connections, dropped tunnels. Retried with capped backoff.
	CategoryConnectivity ErrorCategory = "connectivity"

	// CategoryProtocol covers permanent upstream failures: authentication
	// rejections, malformed API responses, 4xx-equivalents. Not retried.
	CategoryProtocol ErrorCategory = "protocol"

	// CategoryLegData covers a single unparseable or invalid upstream
	// record. These are skipped and counted, never fatal to a batch.
	CategoryLegData ErrorCategory = "leg_data"

	// CategoryManualAction covers operator requests that cannot be applied,
	// such as associating from a nonexistent donor record.
	CategoryManualAction ErrorCategory = "manual_action"

	// CategoryStore covers failures of the local reconciliation store.
	CategoryStore ErrorCategory = "store"

	// CategoryInternal covers unexpected programming or resource errors.
	CategoryInternal ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

const (
	// Connectivity codes
	CodeTimeout          ErrorCode = "timeout"
	CodeConnectionFailed ErrorCode = "connection_failed"
	CodeRetriesExhausted ErrorCode = "retries_exhausted"

	// Protocol codes
	CodeAuthFailed      ErrorCode = "auth_failed"
	CodeBadResponse     ErrorCode = "bad_response"
	CodeRequestRejected ErrorCode = "request_rejected"

	// Leg data codes
	CodeInvalidAmount   ErrorCode = "invalid_amount"
	CodeInvalidDate     ErrorCode = "invalid_date"
	CodeMissingField    ErrorCode = "missing_field"
	CodeMalformedRecord ErrorCode = "malformed_record"

	// Manual action codes
	CodeRecordNotFound  ErrorCode = "record_not_found"
	CodeLegNotPresent   ErrorCode = "leg_not_present"
	CodeInvalidArgument ErrorCode = "invalid_argument"
	CodeCycleInProgress ErrorCode = "cycle_in_progress"
	CodeAlreadyMatched  ErrorCode = "already_matched"

	// Store codes
	CodeQueryFailed  ErrorCode = "query_failed"
	CodeUpsertFailed ErrorCode = "upsert_failed"

	// Internal codes
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// TrackerError is the base error type for all application errors.
type TrackerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries additional key/value detail about the error.
type Context map[string]interface{}

// Error implements the error interface.
func (e *TrackerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *TrackerError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the error should be retried.
func (e *TrackerError) Transient() bool {
	return e.Category == CategoryConnectivity && e.Code != CodeRetriesExhausted
}

// WithContext adds context information to the error.
func (e *TrackerError) WithContext(key string, value interface{}) *TrackerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// New creates a new TrackerError.
func New(category ErrorCategory, code ErrorCode, message string) *TrackerError {
	return &TrackerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with taxonomy context. Returns nil for a nil
// cause so call sites can wrap unconditionally.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *TrackerError {
	if err == nil {
		return nil
	}
	return &TrackerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific constructors used across the sync and operation paths.

// ConnectivityError records a transient upstream failure for an endpoint.
func ConnectivityError(code ErrorCode, endpoint string, err error) *TrackerError {
	msg := fmt.Sprintf("upstream connectivity failure at %s", endpoint)
	switch code {
	case CodeTimeout:
		msg = fmt.Sprintf("timeout calling %s", endpoint)
	case CodeRetriesExhausted:
		msg = fmt.Sprintf("retries exhausted calling %s", endpoint)
	}
	return build(err, CategoryConnectivity, code, msg).WithContext("endpoint", endpoint)
}

// ProtocolError records a permanent upstream failure that must not be retried.
func ProtocolError(code ErrorCode, endpoint string, err error) *TrackerError {
	msg := fmt.Sprintf("upstream protocol failure at %s", endpoint)
	if code == CodeAuthFailed {
		msg = fmt.Sprintf("authentication rejected by %s", endpoint)
	}
	return build(err, CategoryProtocol, code, msg).WithContext("endpoint", endpoint)
}

// LegDataError records a single malformed upstream record. The batch
// containing it continues; the caller counts these.
func LegDataError(code ErrorCode, source, detail string) *TrackerError {
	return New(CategoryLegData, code, fmt.Sprintf("malformed %s record: %s", source, detail)).
		WithContext("source", source)
}

// NotFound reports a reconciliation entity that does not exist.
func NotFound(kind, key string) *TrackerError {
	return New(CategoryManualAction, CodeRecordNotFound,
		fmt.Sprintf("%s %q not found", kind, key)).WithContext("key", key)
}

// ManualActionError reports an operator request that cannot be applied.
func ManualActionError(code ErrorCode, message string) *TrackerError {
	return New(CategoryManualAction, code, message)
}

// StoreError wraps a failure of the local reconciliation store.
func StoreError(code ErrorCode, operation string, err error) *TrackerError {
	return build(err, CategoryStore, code,
		fmt.Sprintf("store %s failed", operation)).WithContext("operation", operation)
}

func build(err error, category ErrorCategory, code ErrorCode, message string) *TrackerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// IsNotFound reports whether err carries the record-not-found code.
func IsNotFound(err error) bool {
	te, ok := AsTrackerError(err)
	return ok && te.Code == CodeRecordNotFound
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	te, ok := AsTrackerError(err)
	return ok && te.Transient()
}

// AsTrackerError extracts a TrackerError from an error chain.
func AsTrackerError(err error) (*TrackerError, bool) {
	var te *TrackerError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Summarize renders a short per-source error string suitable for storing in
// sync state, truncated so a pathological upstream message cannot bloat it.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}

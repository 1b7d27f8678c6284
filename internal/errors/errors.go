// Package errors provides centralized error definitions and error handling utilities
// for meilidash. It defines sentinel errors, the typed errors raised by the
// settings workflow and the Meilisearch client, and classification helpers.
//
// # Error Types
//
// Workflow errors describe failures at each boundary of the settings
// synchronization workflow:
//   - MalformedInputError: editor text that does not parse into a settings object
//   - FetchError: reading settings from the remote service failed
//   - SaveError: submitting settings to the remote service failed
//
// Transport errors:
//   - APIError: a non-2xx response from the Meilisearch HTTP API
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewFetchError("settings/movies", cause)
//	if errors.IsRetryable(err) { ... }
//
//	var malformed *errors.MalformedInputError
//	if errors.As(err, &malformed) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Workflow sentinel errors
var (
	// ErrMalformedInput indicates that editor input could not be parsed.
	ErrMalformedInput = New("malformed input")
	// ErrNotEditing indicates an edit-only operation was called outside edit mode.
	ErrNotEditing = New("session is not in edit mode")
	// ErrFetchFailed indicates that the remote settings could not be read.
	ErrFetchFailed = New("fetch failed")
	// ErrSaveFailed indicates that the remote settings could not be written.
	ErrSaveFailed = New("save failed")
)

// Remote service sentinel errors
var (
	// ErrIndexNotFound indicates that the target index does not exist.
	ErrIndexNotFound = New("index not found")
	// ErrTaskNotFound indicates that a task could not be found.
	ErrTaskNotFound = New("task not found")
	// ErrTaskFailed indicates that an enqueued task finished unsuccessfully.
	ErrTaskFailed = New("task failed")
	// ErrUnauthorized indicates a missing or rejected API key.
	ErrUnauthorized = New("unauthorized")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// DashError is the base interface for all meilidash errors.
type DashError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

func prefixed(prefix string, parts []string, message string, cause error) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Workflow Errors
// -----------------------------------------------------------------------------

// MalformedInputError reports editor text that is not a well-formed settings
// object. It is recovered at the edit boundary and never reaches fetch/save.
//
// Example:
//
//	err := errors.NewMalformedInputError("json", cause).WithPosition(3, 14)
//	fmt.Println(err) // "malformed input [format=json, line=3, column=14]: cannot parse settings: ..."
type MalformedInputError struct {
	baseError
	Format string
	Line   int
	Column int
}

// NewMalformedInputError creates a new MalformedInputError for the given codec format.
func NewMalformedInputError(format string, cause error) *MalformedInputError {
	return &MalformedInputError{
		baseError: baseError{
			message:    "cannot parse settings",
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Format: format,
	}
}

// WithMessage replaces the default message.
func (e *MalformedInputError) WithMessage(msg string) *MalformedInputError {
	e.message = msg
	return e
}

// WithPosition records where parsing failed. Zero values are omitted.
func (e *MalformedInputError) WithPosition(line, column int) *MalformedInputError {
	e.Line = line
	e.Column = column
	return e
}

// Error returns the formatted error message.
func (e *MalformedInputError) Error() string {
	var parts []string
	if e.Format != "" {
		parts = append(parts, fmt.Sprintf("format=%s", e.Format))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line=%d", e.Line))
	}
	if e.Column > 0 {
		parts = append(parts, fmt.Sprintf("column=%d", e.Column))
	}
	return prefixed("malformed input", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *MalformedInputError) Is(target error) bool {
	if _, ok := target.(*MalformedInputError); ok {
		return true
	}
	if target == ErrMalformedInput || target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// FetchError reports a failed read of a remote settings resource.
// The last known settings stay displayed when this occurs.
type FetchError struct {
	baseError
	Key string
}

// NewFetchError creates a new FetchError for the given cache key.
func NewFetchError(key string, cause error) *FetchError {
	return &FetchError{
		baseError: baseError{
			message:    "failed to fetch settings",
			cause:      cause,
			severity:   SeverityError,
			retryable:  IsRetryable(cause),
			userFacing: true,
		},
		Key: key,
	}
}

// Error returns the formatted error message.
func (e *FetchError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	return prefixed("fetch error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *FetchError) Is(target error) bool {
	if _, ok := target.(*FetchError); ok {
		return true
	}
	if target == ErrFetchFailed {
		return true
	}
	return e.baseError.Is(target)
}

// SaveError reports a failed settings update. It is surfaced through the
// notification layer; the workflow never retries it.
type SaveError struct {
	baseError
	Key string
}

// NewSaveError creates a new SaveError for the given cache key.
func NewSaveError(key string, cause error) *SaveError {
	return &SaveError{
		baseError: baseError{
			message:    "failed to save settings",
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Key: key,
	}
}

// Error returns the formatted error message.
func (e *SaveError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	return prefixed("save error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *SaveError) Is(target error) bool {
	if _, ok := target.(*SaveError); ok {
		return true
	}
	if target == ErrSaveFailed {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Transport Errors
// -----------------------------------------------------------------------------

// APIError is a non-2xx response from the Meilisearch HTTP API. Code, Type and
// Link come from the service's JSON error body when present.
//
// Example:
//
//	{"message":"Index `movies` not found.","code":"index_not_found","type":"invalid_request","link":"..."}
type APIError struct {
	baseError
	StatusCode int
	Method     string
	Path       string
	Code       string
	Type       string
	Link       string
}

// NewAPIError creates a new APIError. Server errors and 429 are retryable.
func NewAPIError(statusCode int, message string) *APIError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	severity := SeverityError
	if statusCode >= 400 && statusCode < 500 {
		severity = SeverityWarning
	}
	return &APIError{
		baseError: baseError{
			message:    message,
			severity:   severity,
			retryable:  statusCode >= 500 || statusCode == http.StatusTooManyRequests,
			userFacing: true,
		},
		StatusCode: statusCode,
	}
}

// WithRequest records the request method and path.
func (e *APIError) WithRequest(method, path string) *APIError {
	e.Method = method
	e.Path = path
	return e
}

// WithCode records the service error code, type and documentation link.
func (e *APIError) WithCode(code, typ, link string) *APIError {
	e.Code = code
	e.Type = typ
	e.Link = link
	return e
}

// Error returns the formatted error message.
func (e *APIError) Error() string {
	parts := []string{fmt.Sprintf("status=%d", e.StatusCode)}
	if e.Method != "" || e.Path != "" {
		parts = append(parts, strings.TrimSpace(e.Method+" "+e.Path))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	return prefixed("api error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *APIError) Is(target error) bool {
	if _, ok := target.(*APIError); ok {
		return true
	}
	switch target {
	case ErrIndexNotFound:
		return e.Code == "index_not_found"
	case ErrTaskNotFound:
		return e.Code == "task_not_found"
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("index", "movies")
//	fmt.Println(err) // "index 'movies' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("index uid cannot be empty").WithField("index")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return prefixed("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for task 42", 30*time.Second)
//	fmt.Println(err) // "timeout error: waiting for task 42 (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var dashErr DashError
	if As(err, &dashErr) {
		return dashErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var dashErr DashError
	if As(err, &dashErr) {
		return dashErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement DashError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var dashErr DashError
	if As(err, &dashErr) {
		return dashErr.Severity()
	}

	return SeverityError
}

// IsWorkflowError returns true if the error was raised by the settings
// workflow (MalformedInputError, FetchError or SaveError).
func IsWorkflowError(err error) bool {
	if err == nil {
		return false
	}

	var malformed *MalformedInputError
	var fetch *FetchError
	var save *SaveError

	return As(err, &malformed) || As(err, &fetch) || As(err, &save)
}

// UserMessage returns text suitable for a status line: the error itself when
// it is user-facing, a generic message otherwise.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsUserFacing(err) {
		return err.Error()
	}
	return "an internal error occurred"
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

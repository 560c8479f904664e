// Package errdefs defines the classified errors carried by every fallible hub
// operation. Codes are grouped into numeric ranges per category so that a
// code alone identifies its category, and the retry layer decides
// retriability from a fixed allow-list of codes.
package errdefs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Category groups error codes by concern. The category of a code is derived
// from the numeric range the code lies in.
type Category string

const (
	CategoryConfiguration Category = "Configuration"
	CategoryConnection    Category = "Connection"
	CategoryRuntime       Category = "Runtime"
	CategoryValidation    Category = "Validation"
	CategorySystem        Category = "System"
)

// Severity indicates operational impact. It does not affect control flow;
// it is carried for diagnostics and log filtering.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Code identifies one error kind. Ranges are reserved per category:
// 1000-1999 configuration, 2000-2999 connection, 3000-3999 runtime,
// 4000-4999 validation, 5000-5999 system.
type Code int

const (
	// Configuration errors (1000-1999).
	CodeInvalidServerConfig Code = 1001
	CodeInvalidGroupConfig  Code = 1002
	CodeSchemaViolation     Code = 1003
	CodeMissingFile         Code = 1004
	CodeMissingEnvVar       Code = 1005
	CodeInvalidAuthConfig   Code = 1006

	// Connection errors (2000-2999). All of these are retriable.
	CodeStartupFailed     Code = 2001
	CodeNetworkDown       Code = 2002
	CodeAuthFailed        Code = 2003
	CodeUnavailable       Code = 2004
	CodeConnectionTimeout Code = 2005
	CodeConnectionRefused Code = 2006

	// Runtime errors (3000-3999).
	CodeToolExecutionFailed Code = 3001
	CodeDisconnected        Code = 3002
	CodeBadArguments        Code = 3003
	CodeToolNotFound        Code = 3004
	CodeGroupNotFound       Code = 3005
	CodeAccessDenied        Code = 3006
	CodeServiceUnavailable  Code = 3007

	// Validation errors (4000-4999).
	CodeBadRequestFormat Code = 4001
	CodeMissingParameter Code = 4002
	CodeTypeMismatch     Code = 4003
	CodeBadValue         Code = 4004

	// System errors (5000-5999).
	CodeInternal      Code = 5001
	CodeOutOfMemory   Code = 5002
	CodeSystemTimeout Code = 5003
	CodeUnknown       Code = 5004
)

// Category returns the category whose reserved range contains the code.
func (c Code) Category() Category {
	switch {
	case c >= 1000 && c < 2000:
		return CategoryConfiguration
	case c >= 2000 && c < 3000:
		return CategoryConnection
	case c >= 3000 && c < 4000:
		return CategoryRuntime
	case c >= 4000 && c < 5000:
		return CategoryValidation
	default:
		return CategorySystem
	}
}

// Error is the structured error type used across the hub. Message is a short
// stable description of the error kind; Details carries the human-readable
// specifics. The rendered text is "<category>: <message>[: <details>][: <cause>]",
// which is also the user-visible text placed into failed tool results.
type Error struct {
	Code      Code
	Severity  Severity
	Message   string
	Details   string
	Context   map[string]interface{}
	Timestamp time.Time

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code.Category(), e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Category is shorthand for e.Code.Category().
func (e *Error) Category() Category { return e.Code.Category() }

// WithDetails sets the human-readable detail text and returns the error for
// chaining.
func (e *Error) WithDetails(format string, args ...interface{}) *Error {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithContext attaches one structured context value and returns the error
// for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a classified error.
func New(code Code, severity Severity, message string) *Error {
	return &Error{
		Code:      code,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap creates a classified error around a cause. The cause remains reachable
// through errors.Unwrap.
func Wrap(err error, code Code, severity Severity, message string) *Error {
	e := New(code, severity, message)
	e.cause = err
	return e
}

// Retriable reports whether the retry executor may re-attempt the operation
// that produced err. The allow-list is fixed: every connection-category code,
// plus service-unavailable, disconnected, and the system timeout.
func Retriable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Code.Category() == CategoryConnection {
		return true
	}
	switch e.Code {
	case CodeServiceUnavailable, CodeDisconnected, CodeSystemTimeout:
		return true
	}
	return false
}

// IsCode reports whether err is or wraps a classified error with the given
// code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsToolNotFound reports whether err indicates an unknown or inaccessible
// tool.
func IsToolNotFound(err error) bool {
	return IsCode(err, CodeToolNotFound)
}

// Classify maps an arbitrary error into the taxonomy. Classified errors pass
// through unchanged; context cancellation and deadline expiry become
// connection timeouts; network errors become network-down; everything else
// is an internal error.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Wrap(err, CodeConnectionTimeout, SeverityMedium, "timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(err, CodeConnectionTimeout, SeverityMedium, "timeout")
		}
		return Wrap(err, CodeNetworkDown, SeverityHigh, "network error")
	}
	return Wrap(err, CodeInternal, SeverityHigh, "internal error")
}

// NewToolNotFound creates the error returned when a tool is unknown or not
// visible in the resolved group.
func NewToolNotFound(tool, group string) *Error {
	return New(CodeToolNotFound, SeverityLow, "tool not found").
		WithDetails("tool %q is not available in group %q", tool, group)
}

// NewGroupNotFound creates the error returned when a group id references no
// configured group.
func NewGroupNotFound(group string) *Error {
	return New(CodeGroupNotFound, SeverityLow, "group not found").
		WithDetails("group %q is not configured", group)
}

// NewServerUnavailable creates the error returned when a dispatch targets a
// backend that is not currently connected.
func NewServerUnavailable(serverID string) *Error {
	return New(CodeUnavailable, SeverityMedium, "server-unavailable").
		WithDetails("server %q is not connected", serverID)
}

// NewUpstreamUnavailable creates the error returned when an adapter HTTP
// upstream keeps failing with a retriable status until attempts run out.
func NewUpstreamUnavailable(status int, attempts int) *Error {
	return New(CodeUnavailable, SeverityMedium, "service-unavailable").
		WithDetails("upstream returned HTTP %d after %d attempts", status, attempts)
}

// NewDisconnected creates the error recorded when an established connection
// drops.
func NewDisconnected(serverID string, cause error) *Error {
	return Wrap(cause, CodeDisconnected, SeverityMedium, "disconnected").
		WithDetails("connection to server %q was lost", serverID)
}

// NewStartupFailed creates the error recorded when a backend fails its
// initial connect.
func NewStartupFailed(serverID string, cause error) *Error {
	return Wrap(cause, CodeStartupFailed, SeverityHigh, "startup failed").
		WithDetails("server %q failed to start", serverID)
}

// NewMissingEnvVar creates the configuration error for an unresolvable
// {{env.NAME}} reference.
func NewMissingEnvVar(name string) *Error {
	return New(CodeMissingEnvVar, SeverityHigh, "missing env").
		WithDetails("environment variable %q is not set", name)
}

// NewValidationFailed wraps the aggregate outcome of parameter validation.
func NewValidationFailed(detail string) *Error {
	return New(CodeBadValue, SeverityLow, "validation failed").WithDetails("%s", detail)
}

// NewInternal creates a system-internal error around a cause.
func NewInternal(cause error, detail string) *Error {
	return Wrap(cause, CodeInternal, SeverityHigh, "internal error").WithDetails("%s", detail)
}

package tools

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError reports rejected input before any side effect takes place:
// malformed provider names, missing template fields, out-of-range limits, or
// scripts that fail static checks.
type ValidationError struct {
	// Field names what was invalid (e.g. "provider name", "timeout", "script").
	Field string

	// Message describes the violation.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation checks if an error is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProviderNotFoundError indicates the named provider has no registration.
type ProviderNotFoundError struct {
	Provider string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider %q not found", e.Provider)
}

// ToolNotFoundError indicates the provider exists but does not publish the tool.
type ToolNotFoundError struct {
	Provider string
	Tool     string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found on provider %q", e.Tool, e.Provider)
}

// IsNotFound checks whether an error is or wraps a ProviderNotFoundError,
// ToolNotFoundError, or ProtocolNotFoundError.
func IsNotFound(err error) bool {
	var pnf *ProviderNotFoundError
	var tnf *ToolNotFoundError
	var prnf *ProtocolNotFoundError
	return errors.As(err, &pnf) || errors.As(err, &tnf) || errors.As(err, &prnf)
}

// ProtocolNotFoundError indicates no communication protocol is registered
// under the requested key.
type ProtocolNotFoundError struct {
	Protocol string
}

func (e *ProtocolNotFoundError) Error() string {
	return fmt.Sprintf("communication protocol %q not registered", e.Protocol)
}

// ProtocolNotAllowedError indicates the protocol is registered but excluded
// by the client's allowed-protocols configuration.
type ProtocolNotAllowedError struct {
	Protocol string
	Allowed  []string
}

func (e *ProtocolNotAllowedError) Error() string {
	return fmt.Sprintf("communication protocol %q not allowed (allowed: %s)",
		e.Protocol, strings.Join(e.Allowed, ", "))
}

// ProviderRegistrationError wraps a failure during provider registration,
// after validation but before the provider became visible.
type ProviderRegistrationError struct {
	Provider string
	Err      error
}

func (e *ProviderRegistrationError) Error() string {
	return fmt.Sprintf("registration of provider %q failed: %v", e.Provider, e.Err)
}

func (e *ProviderRegistrationError) Unwrap() error { return e.Err }

// TransportError wraps a communication failure with the provider and tool
// context attached at the client boundary.
type TransportError struct {
	Protocol string
	Provider string
	Tool     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("%s transport error calling %q on provider %q: %v",
			e.Protocol, e.Tool, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s transport error for provider %q: %v", e.Protocol, e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError indicates a deadline elapsed. It is distinct from
// ResourceLimitError so callers can tell slow work from oversized work.
type TimeoutError struct {
	// Op names the operation that timed out (e.g. "tool call", "script").
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// IsTimeout checks if an error is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ResourceLimitError indicates a quota was exhausted: operation budget,
// value size, result size, or call depth.
type ResourceLimitError struct {
	// Limit names the exhausted quota (e.g. "operation budget", "result size").
	Limit  string
	Max    int64
	Actual int64
}

func (e *ResourceLimitError) Error() string {
	if e.Actual > 0 {
		return fmt.Sprintf("%s exceeded: %d > %d", e.Limit, e.Actual, e.Max)
	}
	return fmt.Sprintf("%s exceeded (max %d)", e.Limit, e.Max)
}

// IsResourceLimit checks if an error is or wraps a ResourceLimitError.
func IsResourceLimit(err error) bool {
	var re *ResourceLimitError
	return errors.As(err, &re)
}

// AuthError wraps a credential failure for a provider.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for provider %q: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

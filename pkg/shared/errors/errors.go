// Package errors provides the error taxonomy shared across the engine:
// validation, protocol, state, configuration and fatal-internal errors
// (spec.md §7). Operation failures use the OperationError shape;
// validation and configuration errors have their own ValidationErr and
// ConfigurationErr types.
package errors

import (
	"strings"

	faster "github.com/go-faster/errors"
)

// OperationError describes a failed operation with optional component and
// resource context, matching the "failed to X, component: Y, resource: Z,
// cause: ..." rendering used throughout the engine's logs.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Component != "" {
		b.WriteString(", component: ")
		b.WriteString(e.Component)
	}
	if e.Resource != "" {
		b.WriteString(", resource: ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(", cause: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds a minimal OperationError for a one-off failure.
func FailedTo(action string, cause error) error {
	return &OperationError{Operation: action, Cause: cause}
}

// FailedToWithDetails builds an OperationError carrying component/resource
// context, for call sites that can name exactly what failed.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{
		Operation: action,
		Component: component,
		Resource:  resource,
		Cause:     cause,
	}
}

// Wrap wraps err with an additional message, or returns nil if err is nil.
// Wrapping is delegated to go-faster/errors so callers can still use
// errors.Is/errors.As/errors.Cause across the chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return faster.Wrap(err, message)
}

// ValidationError reports a message attribute (spec.md §4.2 validate())
// that failed validation.
type ValidationErr struct {
	Field  string
	Reason string
}

func (e *ValidationErr) Error() string {
	return "validation failed for field " + e.Field + ": " + e.Reason
}

func ValidationError(field, reason string) error {
	return &ValidationErr{Field: field, Reason: reason}
}

// ConfigurationErr reports a fatal configuration problem (spec.md §7
// Configuration errors).
type ConfigurationErr struct {
	Setting string
	Reason  string
}

func (e *ConfigurationErr) Error() string {
	return "configuration error for setting " + e.Setting + ": " + e.Reason
}

func ConfigurationError(setting, reason string) error {
	return &ConfigurationErr{Setting: setting, Reason: reason}
}

// ParseError reports a malformed config/wire payload (spec.md §7
// Configuration / Validation errors).
func ParseError(what, format string, cause error) error {
	return faster.Wrapf(cause, "failed to parse %s as %s", what, format)
}

// Chain joins non-nil errors into a single error, or returns nil if none
// are non-nil. A single non-nil error is returned unwrapped.
func Chain(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msgs := make([]string, len(nonNil))
		for i, err := range nonNil {
			msgs[i] = err.Error()
		}
		return faster.Newf("multiple errors: %s", strings.Join(msgs, "; "))
	}
}

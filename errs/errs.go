// Package errs defines the error taxonomy shared by the synthesizer and the
// deadlock detector.
package errs

import (
	"errors"
	"fmt"
)

// Reason classifies a ConfigurationError.
type Reason string

// Reasons of configuration failures.
const (
	NonPowerOfTwo   Reason = "non-power-of-two"
	ZeroPool        Reason = "zero-sized-pool"
	BadRatio        Reason = "bad-ratio"
	MissingBridge   Reason = "missing-bridge"
	OneSidedBridge  Reason = "one-sided-bridge"
	EmptyDownstream Reason = "empty-downstream"
	AddressAlias    Reason = "address-alias"
	Invalid         Reason = "invalid"
)

// ConfigurationError is raised when a synthesis configuration is
// structurally invalid. It is never silently corrected.
type ConfigurationError struct {
	Reason Reason
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Reason, e.Detail)
}

// Is makes errors.Is match any ConfigurationError with the same reason.
func (e *ConfigurationError) Is(target error) bool {
	t, ok := target.(*ConfigurationError)
	if !ok {
		return false
	}

	return t.Reason == "" || t.Reason == e.Reason
}

// Config creates a ConfigurationError with a formatted detail.
func Config(reason Reason, format string, args ...any) error {
	return &ConfigurationError{
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// TopologyTraceMismatchError is raised when a trace refers to a router, port
// or controller that the fabric description does not know about.
type TopologyTraceMismatchError struct {
	Router int
	Port   string
	Detail string
}

func (e *TopologyTraceMismatchError) Error() string {
	if e.Router < 0 {
		return "trace/topology mismatch: " + e.Detail
	}

	return fmt.Sprintf("trace/topology mismatch at router %d port %s: %s",
		e.Router, e.Port, e.Detail)
}

// Mismatch creates a TopologyTraceMismatchError.
func Mismatch(router int, port string, format string, args ...any) error {
	return &TopologyTraceMismatchError{
		Router: router,
		Port:   port,
		Detail: fmt.Sprintf(format, args...),
	}
}

// ParseError is raised when a line partially matches a known pattern but
// misses a required field.
type ParseError struct {
	Source string
	Line   int
	Text   string
	Field  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: malformed line, missing or invalid %s: %q",
		e.Source, e.Line, e.Field, e.Text)
}

// IsConfiguration reports whether err carries a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsMismatch reports whether err carries a TopologyTraceMismatchError.
func IsMismatch(err error) bool {
	var target *TopologyTraceMismatchError
	return errors.As(err, &target)
}

// IsParse reports whether err carries a ParseError.
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

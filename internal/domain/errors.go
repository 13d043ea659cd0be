package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ConfigurationError is a fatal pre-run failure. Nothing is processed when
// configuration invariants do not hold.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError builds a ConfigurationError for the given key.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientDataError reports a series shorter than the minimum detection
// window. Detection returns empty output instead of failing; callers may still
// inspect the sizes involved.
type InsufficientDataError struct {
	Needed int
	Got    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need %d points, got %d", e.Needed, e.Got)
}

// ScoringDegenerateError marks a (field, timeframe) pair whose evaluation
// collapsed, e.g. zero variance in the validation split. The pair is reported
// unconfirmed; the run continues.
type ScoringDegenerateError struct {
	Field     string
	Timeframe TimeframeClass
	Reason    string
}

func (e *ScoringDegenerateError) Error() string {
	return fmt.Sprintf("scoring degenerate: %s/%s: %s", e.Field, e.Timeframe, e.Reason)
}

// IsFatal reports whether err must abort the run before any data is processed.
// Only configuration invariant violations qualify.
func IsFatal(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

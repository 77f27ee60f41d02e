package errs

import (
	"errors"
	"fmt"
)

// ErrAdmissionCanceled is returned when a caller gives up (context cancelled
// or deadline exceeded) while waiting for admission or for a retry backoff.
// The context error is wrapped alongside it.
var ErrAdmissionCanceled = errors.New("admission canceled")

// ConfigError reports an invalid construction parameter. It is always
// returned at construction time, never from a send.
type ConfigError struct {
	Component string // "limit", "retry", "config", ...
	Field     string
	Reason    string
}

var _ error = &ConfigError{}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s configuration: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("invalid %s configuration: %s %s", e.Component, e.Field, e.Reason)
}

// Is lets errors.Is(err, &ConfigError{}) match any configuration error,
// not only the same pointer.
func (e *ConfigError) Is(other error) bool {
	var err *ConfigError
	return errors.As(other, &err) && err != nil
}

// Canceled wraps a context error so that it matches both
// ErrAdmissionCanceled and the original context error.
func Canceled(ctxErr error) error {
	return fmt.Errorf("%w: %w", ErrAdmissionCanceled, ctxErr)
}

package sensor

import "errors"

// Domain-specific errors for registry loading.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidRegistry is returned when the registry file fails validation.
	ErrInvalidRegistry = errors.New("sensor: invalid registry")
)

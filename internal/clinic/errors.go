package clinic

import "errors"

var (
	// ErrMissingTenant is returned when a config has no tenant id.
	ErrMissingTenant = errors.New("clinic: tenant id required")

	// ErrInvalidHours is returned when a day's open/close window cannot be parsed.
	ErrInvalidHours = errors.New("clinic: invalid business hours")
)

package leads

import "errors"

var (
	// ErrMissingTenant is returned when a lead has no tenant
	ErrMissingTenant = errors.New("tenant id is required")

	// ErrMissingPhone is returned when a lead has no caller phone
	ErrMissingPhone = errors.New("phone is required")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrInvalidOutcome is returned for a callback outcome other than contacted or lost
	ErrInvalidOutcome = errors.New("callback outcome must be contacted or lost")

	// ErrLeadBooked is returned when closing out a lead that already booked
	ErrLeadBooked = errors.New("lead already booked")
)

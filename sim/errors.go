package sim

import "errors"

var (
	// ErrInvalidConfig wraps every construction-time validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrFacilityNotFound is returned when a facility id has no match.
	ErrFacilityNotFound = errors.New("facility not found")
	// ErrUnitNotFound is returned when a unit name has no match in a facility.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrDuplicateUnit is returned when a facility already has a unit of that name.
	ErrDuplicateUnit = errors.New("duplicate unit name")
)

package scenario

import "errors"

var (
	// ErrUnknownScenario is returned for a simulation type outside the
	// supported set.
	ErrUnknownScenario = errors.New("unknown scenario type")

	// ErrInvalidParameter is returned when a scenario's parameters are
	// missing, out of range or inconsistent with the profile.
	ErrInvalidParameter = errors.New("invalid scenario parameter")
)

package rules

import "errors"

// Sentinel kinds for rule pack errors.
var (
	ErrPackInvalid     = errors.New("rule pack invalid")
	ErrUnknownActivity = errors.New("activity code not covered by rule pack")
	ErrUnknownCategory = errors.New("category not in rule pack")
	ErrUnknownTier     = errors.New("tier not in rule pack")
)

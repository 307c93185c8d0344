package calc

import "errors"

// Sentinel kinds for computation errors.
var (
	// ErrRuleProviderData marks malformed or missing bracket/share data.
	// Fatal for the current compute call; never silently substituted.
	ErrRuleProviderData = errors.New("rule provider data error")

	// ErrInsufficientData marks a missing or non-positive profile field
	// where a ratio or tier lookup needs it. Recoverable: the dependent
	// sub-computation reports "not applicable".
	ErrInsufficientData = errors.New("insufficient profile data")
)

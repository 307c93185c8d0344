package profile

import "errors"

// Sentinel kinds for profile validation errors.
var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrPartnerShares  = errors.New("partner shares must sum to 1.0")
)

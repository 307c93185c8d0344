package location

import "errors"

// ErrUnknownState is returned for a state code outside the known federation
// units.
var ErrUnknownState = errors.New("unknown state code")

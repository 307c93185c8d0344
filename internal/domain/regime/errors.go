package regime

import "errors"

// ErrInvalidAssumptions is returned when a caller-supplied margin or credit
// share falls outside [0, 1).
var ErrInvalidAssumptions = errors.New("invalid regime assumptions")

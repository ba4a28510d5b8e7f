package overlay

import "github.com/hazyhaar/gridstats/overlay/internal/fault"

// ErrNetwork is returned when a remote call fails or answers non-2xx.
var ErrNetwork = fault.ErrNetwork

// ErrData is returned when a remote payload has an unexpected shape.
var ErrData = fault.ErrData

// ErrValidation is returned when saving the order is refused before any
// request is made.
var ErrValidation = fault.ErrValidation

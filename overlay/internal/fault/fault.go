// Package fault holds the error kinds shared by the overlay engine. Callers
// wrap them with context and test with errors.Is.
package fault

import "errors"

// ErrNetwork is returned when a remote call fails or answers non-2xx.
var ErrNetwork = errors.New("network error")

// ErrData is returned when a remote payload does not have the expected shape.
var ErrData = errors.New("data error")

// ErrValidation is returned when an operation is refused before any I/O,
// e.g. saving an order with no resolvable identities.
var ErrValidation = errors.New("validation error")

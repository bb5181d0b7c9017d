// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios.
// Component-specific lookups (orders, vouchers) return the sentinels
// declared by the component interfaces they implement instead.
package repository

import "errors"

// ErrScreeningNotFound is returned when a screening lookup matches no
// row. Handlers should translate this into an HTTP 404 response.
var ErrScreeningNotFound = errors.New("screening not found")

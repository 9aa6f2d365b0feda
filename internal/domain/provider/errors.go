package provider

import (
	"errors"
	"fmt"
)

// ErrCursorExpired signals that the provider rejected the incremental-sync
// cursor (410 Gone). Callers fall back to one full-window fetch with the
// cursor cleared; this is never surfaced as a sync error.
var ErrCursorExpired = errors.New("incremental sync cursor expired")

// Error is a provider HTTP failure carrying the status and response body for
// diagnosis.
type Error struct {
	Provider  string
	Operation string
	Status    int
	Body      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Provider, e.Operation, e.Status, e.Body)
}

// IsAuthError reports whether the failure is an authorization rejection.
func (e *Error) IsAuthError() bool {
	return e.Status == 401 || e.Status == 403
}

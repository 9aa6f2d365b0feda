// Package lifecycle holds shared start/stop constants for fx-managed
// components.
package lifecycle

import "time"

// DefaultTimeout bounds graceful startup and shutdown of managed components.
const DefaultTimeout = 30 * time.Second

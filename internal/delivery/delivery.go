// Package delivery defines the contract every inbound transport (HTTP
// server, background worker) fulfills so main can start them uniformly.
package delivery

import "context"

// Delivery is a long-running inbound component started by main and stopped
// through its fx lifecycle hook.
type Delivery interface {
	Serve(ctx context.Context) error
}

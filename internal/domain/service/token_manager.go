package service

import (
	"context"
	"net/http"

	"calsync/internal/domain/entity"

	"github.com/google/uuid"
)

// TokenGrant is the outcome of exchanging an authorization code.
type TokenGrant struct {
	AccessToken       string
	RefreshToken      string // Empty when the provider did not rotate one.
	ExpiresAt         int64  // Unix seconds.
	ProviderAccountID string
}

// TokenManager owns the OAuth lifecycle for sync connections: authorization
// URL construction, code exchange, and proactive/reactive token refresh.
type TokenManager interface {
	// AuthorizationURL builds the provider consent URL with a signed state
	// value encoding the user id.
	AuthorizationURL(provider entity.Provider, userID uuid.UUID) (string, error)

	// ParseState validates a callback state value and returns the user id it
	// encodes.
	ParseState(state string) (uuid.UUID, error)

	// Exchange trades an authorization code for tokens and resolves the
	// provider-side account identifier.
	Exchange(ctx context.Context, provider entity.Provider, code string) (*TokenGrant, error)

	// EnsureFresh refreshes the connection's access token when it expires
	// within the refresh skew. Refresh failures are soft: the connection is
	// returned unchanged and the next provider call surfaces the 401.
	EnsureFresh(ctx context.Context, conn *entity.SyncConnection) *entity.SyncConnection

	// Do performs one authorized HTTP call. On a 401 response it refreshes
	// the token once and retries; it never loops further.
	Do(ctx context.Context, conn *entity.SyncConnection, req *http.Request) (*http.Response, error)
}

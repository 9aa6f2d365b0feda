// Package oauth owns the OAuth token lifecycle for sync connections:
// authorization-URL construction, code-for-token exchange, and
// proactive/reactive refresh of expired access tokens.
package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"calsync/config"
	"calsync/internal/domain/entity"
	"calsync/internal/domain/repository"
	"calsync/internal/domain/service"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"golang.org/x/oauth2"
)

const (
	// refreshSkew is how close to expiry a token must be before EnsureFresh
	// refreshes it proactively.
	refreshSkew = 60 * time.Second

	requestTimeout = 15 * time.Second

	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleScopes      = "https://www.googleapis.com/auth/calendar openid email"

	microsoftAuthURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	microsoftTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	microsoftMeURL    = "https://graph.microsoft.com/v1.0/me"
	microsoftScopes   = "Calendars.ReadWrite offline_access User.Read"
)

// ErrAuthExchangeFailed is returned when the provider rejects the
// code-for-token exchange. It is surfaced to the OAuth callback as a redirect
// error and never retried.
var ErrAuthExchangeFailed = errors.New("authorization code exchange failed")

// TokenManager implements service.TokenManager over golang.org/x/oauth2
// configs, one per provider.
type TokenManager struct {
	configs     map[entity.Provider]*oauth2.Config
	identityURL map[entity.Provider]string
	stateSecret []byte
	connRepo    repository.ConnectionRepository
	client      *http.Client
	logger      *slog.Logger
}

// Params holds dependencies for the TokenManager, injected by Fx.
type Params struct {
	fx.In

	Config   *config.Config
	ConnRepo repository.ConnectionRepository
	Logger   *slog.Logger
}

// New builds the token manager from the per-provider OAuth client
// registrations in the config.
func New(params Params) (service.TokenManager, error) {
	if params.Config.OAuth == nil {
		return nil, errors.New("oauth configuration missing")
	}

	configs := make(map[entity.Provider]*oauth2.Config, 2)
	identity := make(map[entity.Provider]string, 2)

	if cc := params.Config.OAuth.Google; cc != nil {
		configs[entity.ProviderGoogle] = &oauth2.Config{
			ClientID:     cc.ClientID,
			ClientSecret: cc.ClientSecret,
			RedirectURL:  cc.RedirectURI,
			Scopes:       strings.Fields(googleScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  googleAuthURL,
				TokenURL: googleTokenURL,
			},
		}
		identity[entity.ProviderGoogle] = googleUserInfoURL
	}
	if cc := params.Config.OAuth.Microsoft; cc != nil {
		configs[entity.ProviderMicrosoft] = &oauth2.Config{
			ClientID:     cc.ClientID,
			ClientSecret: cc.ClientSecret,
			RedirectURL:  cc.RedirectURI,
			Scopes:       strings.Fields(microsoftScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  microsoftAuthURL,
				TokenURL: microsoftTokenURL,
			},
		}
		identity[entity.ProviderMicrosoft] = microsoftMeURL
	}

	return &TokenManager{
		configs:     configs,
		identityURL: identity,
		stateSecret: []byte(params.Config.OAuth.StateSecret),
		connRepo:    params.ConnRepo,
		client:      &http.Client{Timeout: requestTimeout},
		logger:      params.Logger,
	}, nil
}

// AuthorizationURL builds the provider consent URL. The state value has the
// form "sync-{userID}-{random}.{hmac}" so the callback can be correlated to
// the user without a server-side session.
func (m *TokenManager) AuthorizationURL(p entity.Provider, userID uuid.UUID) (string, error) {
	cfg, ok := m.configs[p]
	if !ok {
		return "", errors.Errorf("provider %q is not configured", p)
	}

	state, err := m.signState(userID)
	if err != nil {
		return "", err
	}

	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// ParseState validates the HMAC of a callback state value and extracts the
// user id it encodes.
func (m *TokenManager) ParseState(state string) (uuid.UUID, error) {
	payload, sig, ok := strings.Cut(state, ".")
	if !ok {
		return uuid.Nil, errors.New("malformed state value")
	}
	if !hmac.Equal([]byte(m.sign(payload)), []byte(sig)) {
		return uuid.Nil, errors.New("state signature mismatch")
	}

	parts := strings.SplitN(payload, "-", 2)
	if len(parts) != 2 || parts[0] != "sync" {
		return uuid.Nil, errors.New("malformed state payload")
	}
	// The uuid occupies a fixed 36 characters; the random suffix follows.
	if len(parts[1]) < 37 {
		return uuid.Nil, errors.New("malformed state payload")
	}
	userID, err := uuid.Parse(parts[1][:36])
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "invalid user id in state")
	}

	return userID, nil
}

// Exchange trades an authorization code for tokens and resolves the
// provider-side account identifier from the provider's identity endpoint.
func (m *TokenManager) Exchange(ctx context.Context, p entity.Provider, code string) (*service.TokenGrant, error) {
	cfg, ok := m.configs[p]
	if !ok {
		return nil, errors.Errorf("provider %q is not configured", p)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, errors.WithMessage(ErrAuthExchangeFailed, err.Error())
	}

	accountID, err := m.fetchAccountID(ctx, p, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &service.TokenGrant{
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		ExpiresAt:         token.Expiry.Unix(),
		ProviderAccountID: accountID,
	}, nil
}

// EnsureFresh refreshes the access token when it expires within the skew.
// Without a refresh token it logs and returns the connection as-is; the
// caller's next provider call will 401 and fail naturally.
func (m *TokenManager) EnsureFresh(ctx context.Context, conn *entity.SyncConnection) *entity.SyncConnection {
	if !conn.TokenExpiringWithin(refreshSkew, time.Now()) {
		return conn
	}
	if conn.RefreshToken == "" {
		m.logger.Warn("access token expiring but no refresh token present",
			slog.String("connectionID", conn.ID.String()),
			slog.String("provider", string(conn.Provider)))

		return conn
	}

	return m.refresh(ctx, conn)
}

// refresh POSTs to the provider's token endpoint with the refresh_token
// grant. Failure is soft: the connection keeps its old token and the error
// surfaces on the next provider call instead of crashing the sync.
func (m *TokenManager) refresh(ctx context.Context, conn *entity.SyncConnection) *entity.SyncConnection {
	cfg, ok := m.configs[conn.Provider]
	if !ok {
		return conn
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken})
	token, err := src.Token()
	if err != nil {
		m.logger.Error("token refresh failed",
			slog.String("connectionID", conn.ID.String()),
			slog.String("provider", string(conn.Provider)),
			slog.Any("error", err))

		return conn
	}

	refreshed := *conn
	refreshed.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	refreshed.TokenExpiresAt = token.Expiry

	if err := m.connRepo.UpdateTokens(ctx, conn.ID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.TokenExpiresAt); err != nil {
		m.logger.Error("failed to persist refreshed tokens",
			slog.String("connectionID", conn.ID.String()),
			slog.Any("error", err))
	}

	return &refreshed
}

// Do performs one authorized HTTP call. On 401 it refreshes the token once
// and retries; it never loops further.
func (m *TokenManager) Do(ctx context.Context, conn *entity.SyncConnection, req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "provider request failed")
	}
	if resp.StatusCode != http.StatusUnauthorized || conn.RefreshToken == "" {
		return resp, nil
	}
	resp.Body.Close()

	refreshed := m.refresh(ctx, conn)
	if refreshed.AccessToken == conn.AccessToken {
		// Refresh did not produce a new token; return the 401 result by
		// replaying the request once anyway so the caller sees the failure.
		return nil, errors.New("authorization rejected and token refresh failed")
	}
	*conn = *refreshed

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "failed to rewind request body")
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+conn.AccessToken)

	resp, err = m.client.Do(retry)
	if err != nil {
		return nil, errors.Wrap(err, "provider request failed after token refresh")
	}

	return resp, nil
}

func (m *TokenManager) fetchAccountID(ctx context.Context, p entity.Provider, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.identityURL[p], nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create identity request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "identity request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("identity request failed with status %d", resp.StatusCode)
	}

	var identity struct {
		ID                string `json:"id"`
		Email             string `json:"email"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return "", errors.Wrap(err, "failed to decode identity response")
	}

	switch {
	case identity.Email != "":
		return identity.Email, nil
	case identity.UserPrincipalName != "":
		return identity.UserPrincipalName, nil
	default:
		return identity.ID, nil
	}
}

func (m *TokenManager) signState(userID uuid.UUID) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate state nonce")
	}
	payload := "sync-" + userID.String() + "-" + hex.EncodeToString(nonce)

	return payload + "." + m.sign(payload), nil
}

func (m *TokenManager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.stateSecret)
	mac.Write([]byte(payload))

	return hex.EncodeToString(mac.Sum(nil))
}

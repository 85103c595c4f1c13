package firecloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// IdentityKind says on whose behalf a Credentials handle acts.
type IdentityKind string

const (
	IdentityService IdentityKind = "service"
	IdentityUser    IdentityKind = "user"
)

// Scopes requested for the portal service account.
var Scopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/cloud-billing.readonly",
	"https://www.googleapis.com/auth/cloud-platform.read-only",
}

// DefaultTokenLifetime is assumed when the token endpoint omits expires_in.
const DefaultTokenLifetime = time.Hour

// AccessToken is a bearer token and its absolute expiry.
type AccessToken struct {
	Value     string    `json:"access_token"`
	Type      string    `json:"token_type"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token can no longer be used at now. A token
// is valid strictly while now is before ExpiresAt.
func (t AccessToken) Expired(now time.Time) bool {
	return t.Value == "" || !now.Before(t.ExpiresAt)
}

// TokenMinter obtains a brand new token from an identity source.
type TokenMinter interface {
	Mint(ctx context.Context) (*oauth2.Token, error)
	Issuer() string
}

// TokenStore persists refreshed user tokens.
type TokenStore interface {
	SaveAccessToken(ctx context.Context, token AccessToken) error
}

// Credentials is a thread-safe token holder for one identity. Concurrent
// callers that find the token expired trigger exactly one refresh.
type Credentials struct {
	kind      IdentityKind
	minter    TokenMinter
	store     TokenStore
	now       func() time.Time
	logger    zerolog.Logger
	onRefresh func(kind IdentityKind, err error)

	mu    sync.Mutex
	token AccessToken
}

// CredentialOption configures a Credentials handle.
type CredentialOption func(*Credentials)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) CredentialOption {
	return func(c *Credentials) { c.now = now }
}

// WithTokenStore persists every refreshed token.
func WithTokenStore(s TokenStore) CredentialOption {
	return func(c *Credentials) { c.store = s }
}

// WithInitialToken seeds the handle with a previously stored token.
func WithInitialToken(t AccessToken) CredentialOption {
	return func(c *Credentials) { c.token = t }
}

// WithCredentialLogger sets the logger used for refresh events.
func WithCredentialLogger(l zerolog.Logger) CredentialOption {
	return func(c *Credentials) { c.logger = l }
}

// WithRefreshObserver is called after every refresh attempt.
func WithRefreshObserver(fn func(kind IdentityKind, err error)) CredentialOption {
	return func(c *Credentials) { c.onRefresh = fn }
}

// NewCredentials binds a handle to an identity source.
func NewCredentials(kind IdentityKind, minter TokenMinter, opts ...CredentialOption) *Credentials {
	c := &Credentials{
		kind:   kind,
		minter: minter,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind returns the identity kind.
func (c *Credentials) Kind() IdentityKind { return c.kind }

// Issuer returns the account the handle acts as.
func (c *Credentials) Issuer() string { return c.minter.Issuer() }

// Token returns the current token, refreshing it first when it has expired.
func (c *Credentials) Token(ctx context.Context) (AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.token.Expired(c.now()) {
		return c.token, nil
	}
	c.logger.Info().
		Str("identity", string(c.kind)).
		Str("issuer", c.minter.Issuer()).
		Msg("access token expired, refreshing")
	return c.refreshLocked(ctx)
}

// Refresh unconditionally obtains a new token.
func (c *Credentials) Refresh(ctx context.Context) (AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// ExpiresAt returns the expiry of the held token (zero if none).
func (c *Credentials) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.ExpiresAt
}

func (c *Credentials) refreshLocked(ctx context.Context) (AccessToken, error) {
	now := c.now()
	tok, err := c.minter.Mint(ctx)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = errors.New("token endpoint returned no access token")
	}
	if err != nil {
		c.observe(err)
		return AccessToken{}, &IdentityError{Kind: c.kind, Issuer: c.minter.Issuer(), Err: err}
	}

	next := AccessToken{
		Value:     tok.AccessToken,
		Type:      tok.TokenType,
		IssuedAt:  now,
		ExpiresAt: tok.Expiry,
	}
	if next.Type == "" {
		next.Type = "Bearer"
	}
	if next.ExpiresAt.IsZero() {
		next.ExpiresAt = now.Add(DefaultTokenLifetime)
	}
	c.token = next
	c.observe(nil)

	if c.store != nil {
		if err := c.store.SaveAccessToken(ctx, next); err != nil {
			c.logger.Warn().Err(err).Str("issuer", c.minter.Issuer()).Msg("persisting refreshed token")
		}
	}

	c.logger.Debug().
		Str("identity", string(c.kind)).
		Time("expires_at", next.ExpiresAt).
		Msg("access token refreshed")
	return next, nil
}

func (c *Credentials) observe(err error) {
	if c.onRefresh != nil {
		c.onRefresh(c.kind, err)
	}
}

// ServiceMinter mints portal service-account tokens.
type ServiceMinter struct {
	jwt    *jwt.Config
	source oauth2.TokenSource
	email  string
}

// NewServiceMinter builds a minter from a service-account JSON key. With an
// empty key the ambient application-default credentials are used instead.
func NewServiceMinter(ctx context.Context, keyJSON []byte) (*ServiceMinter, error) {
	if len(keyJSON) == 0 {
		creds, err := google.FindDefaultCredentials(ctx, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("finding default credentials: %w", err)
		}
		m := &ServiceMinter{source: creds.TokenSource, email: "application-default"}
		if email := clientEmail(creds.JSON); email != "" {
			m.email = email
		}
		return m, nil
	}

	cfg, err := google.JWTConfigFromJSON(keyJSON, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	return &ServiceMinter{jwt: cfg, email: cfg.Email}, nil
}

// Mint fetches a new token. JWT-based minters never reuse a cached token.
func (m *ServiceMinter) Mint(ctx context.Context) (*oauth2.Token, error) {
	if m.jwt != nil {
		return m.jwt.TokenSource(ctx).Token()
	}
	return m.source.Token()
}

func (m *ServiceMinter) Issuer() string { return m.email }

func clientEmail(keyJSON []byte) string {
	var key struct {
		ClientEmail string `json:"client_email"`
	}
	if len(keyJSON) == 0 || json.Unmarshal(keyJSON, &key) != nil {
		return ""
	}
	return key.ClientEmail
}

// UserMinter exchanges a stored user refresh token for access tokens.
type UserMinter struct {
	cfg          *oauth2.Config
	email        string
	refreshToken string
}

// NewUserMinter returns a minter for email. An empty refreshToken is allowed;
// Mint then fails with ErrNoToken.
func NewUserMinter(cfg *oauth2.Config, email, refreshToken string) *UserMinter {
	return &UserMinter{cfg: cfg, email: email, refreshToken: refreshToken}
}

// OAuthConfig returns the refresh-grant client config for the Google token
// endpoint, or tokenURL when set.
func OAuthConfig(clientID, clientSecret, tokenURL string) *oauth2.Config {
	endpoint := google.Endpoint
	if tokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
		Scopes:       Scopes,
	}
}

func (m *UserMinter) Mint(ctx context.Context) (*oauth2.Token, error) {
	if m.refreshToken == "" {
		return nil, ErrNoToken
	}
	return m.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: m.refreshToken}).Token()
}

func (m *UserMinter) Issuer() string { return m.email }

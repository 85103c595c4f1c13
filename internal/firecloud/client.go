// Package firecloud is a client for the Terra/FireCloud orchestration API.
//
// A Client acts on behalf of exactly one identity: either the portal service
// account or a single signed-in user. Every remote operation goes through one
// executor that attaches a bearer token, refreshes it when expired, retries a
// bounded number of times and normalizes the final error message.
package firecloud

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/unity-portal/unity/internal/retry"
)

const (
	// DefaultAPIRoot is the production orchestration endpoint.
	DefaultAPIRoot = "https://api.firecloud.org"

	// PortalNamespace is the billing project the portal service account owns.
	PortalNamespace = "single-cell-portal"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Call describes one attempt of a remote call.
type Call struct {
	Issuer     string
	Identity   IdentityKind
	Method     string
	Path       string
	Attempt    int
	StatusCode int
	Duration   time.Duration
	Err        error
}

// CallRecorder receives every attempt made by the executor.
type CallRecorder interface {
	RecordCall(call Call)
}

// Client talks to the FireCloud API as one identity.
type Client struct {
	apiRoot  string
	project  string
	http     Doer
	creds    *Credentials
	retry    retry.Policy
	logger   zerolog.Logger
	recorder CallRecorder
	metrics  *Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithAPIRoot overrides DefaultAPIRoot.
func WithAPIRoot(root string) Option {
	return func(c *Client) { c.apiRoot = strings.TrimSuffix(root, "/") }
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithRetryPolicy replaces the default three-attempt policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithRecorder(r CallRecorder) Option {
	return func(c *Client) { c.recorder = r }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithProject sets the default billing project for the client.
func WithProject(project string) Option {
	return func(c *Client) { c.project = project }
}

// New returns a client acting as the identity behind creds.
func New(creds *Credentials, opts ...Option) *Client {
	c := &Client{
		apiRoot: DefaultAPIRoot,
		project: PortalNamespace,
		http:    http.DefaultClient,
		creds:   creds,
		retry:   retry.Default(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Project returns the client's default billing project.
func (c *Client) Project() string { return c.project }

// Issuer returns the account this client acts as.
func (c *Client) Issuer() string { return c.creds.Issuer() }

// Identity returns the kind of identity behind the client.
func (c *Client) Identity() IdentityKind { return c.creds.Kind() }

// Credentials exposes the token handle, e.g. to hand a token to a browser.
func (c *Client) Credentials() *Credentials { return c.creds }

// AccessToken returns a valid token for the client's identity.
func (c *Client) AccessToken(ctx context.Context) (AccessToken, error) {
	return c.creds.Token(ctx)
}

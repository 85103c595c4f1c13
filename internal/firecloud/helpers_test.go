package firecloud

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/unity-portal/unity/internal/firecloud/firecloudtest"
	"golang.org/x/oauth2"
)

// stubMinter hands out numbered tokens valid for lifetime.
type stubMinter struct {
	mu       sync.Mutex
	minted   int
	lifetime time.Duration
	now      func() time.Time
	err      error
	delay    time.Duration
}

func (m *stubMinter) Mint(ctx context.Context) (*oauth2.Token, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.minted++
	return &oauth2.Token{
		AccessToken: fmt.Sprintf("tok-%d", m.minted),
		TokenType:   "Bearer",
		Expiry:      m.now().Add(m.lifetime),
	}, nil
}

func (m *stubMinter) Issuer() string { return "portal@test.iam.gserviceaccount.com" }

func (m *stubMinter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minted
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStubMinter(clock *fakeClock) *stubMinter {
	return &stubMinter{lifetime: time.Hour, now: clock.Now}
}

// newTestClient returns a service-identity client pointed at api.
func newTestClient(t *testing.T, api *firecloudtest.API, opts ...Option) (*Client, *stubMinter) {
	t.Helper()
	clock := newFakeClock()
	minter := newStubMinter(clock)
	creds := NewCredentials(IdentityService, minter, WithClock(clock.Now))
	opts = append([]Option{WithAPIRoot(api.URL)}, opts...)
	return New(creds, opts...), minter
}

type recordedCalls struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recordedCalls) RecordCall(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recordedCalls) all() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

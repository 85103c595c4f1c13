// Package firecloudtest provides an OAuth token endpoint and a scriptable
// API server for tests of code built on the firecloud client.
package firecloudtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// TokenServer is a fake OAuth2 token endpoint. It accepts refresh-token
// grants for the configured refresh token and any JWT-bearer assertion.
type TokenServer struct {
	*httptest.Server

	// RefreshToken is the only refresh token accepted. Empty accepts any.
	RefreshToken string
	// ExpiresIn is returned as expires_in (seconds).
	ExpiresIn int

	issued atomic.Int64
	fail   atomic.Bool
}

// NewTokenServer starts a token endpoint that is closed with the test.
func NewTokenServer(t *testing.T) *TokenServer {
	t.Helper()
	ts := &TokenServer{ExpiresIn: 3600}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.serve))
	t.Cleanup(ts.Close)
	return ts
}

// Issued reports how many tokens were handed out.
func (ts *TokenServer) Issued() int { return int(ts.issued.Load()) }

// FailAll makes every subsequent grant fail with invalid_grant.
func (ts *TokenServer) FailAll(fail bool) { ts.fail.Store(fail) }

func (ts *TokenServer) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	grant := r.PostForm.Get("grant_type")
	ok := !ts.fail.Load()
	if ok && grant == "refresh_token" && ts.RefreshToken != "" {
		ok = r.PostForm.Get("refresh_token") == ts.RefreshToken
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
		return
	}

	n := ts.issued.Add(1)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": fmt.Sprintf("token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   ts.ExpiresIn,
	})
}

// ServiceAccountKey returns a freshly generated service-account JSON key
// whose token_uri points at tokenURL.
func ServiceAccountKey(t *testing.T, email, tokenURL string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling rsa key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "test-project",
		"private_key_id": "test-key",
		"private_key":    string(pemKey),
		"client_email":   email,
		"client_id":      "1234567890",
		"token_uri":      tokenURL,
	})
	if err != nil {
		t.Fatalf("marshaling key json: %v", err)
	}
	return data
}

// API is a scriptable stand-in for the orchestration API. Routes use
// net/http pattern syntax ("GET /api/workspaces/{ns}/{name}").
type API struct {
	*httptest.Server

	mux   *http.ServeMux
	mu    sync.Mutex
	calls map[string]int
	auth  []string
}

// NewAPI starts an empty API server that is closed with the test.
func NewAPI(t *testing.T) *API {
	t.Helper()
	a := &API{mux: http.NewServeMux(), calls: map[string]int{}}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(a.Close)
	return a
}

// Handle registers a handler for pattern.
func (a *API) Handle(pattern string, h http.HandlerFunc) {
	a.mux.HandleFunc(pattern, h)
}

// JSON registers a handler that always replies status with body encoded as
// JSON. A nil body sends an empty reply.
func (a *API) JSON(pattern string, status int, body any) {
	a.Handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, body)
	})
}

// Calls returns how many requests reached "METHOD /path".
func (a *API) Calls(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[key]
}

// TotalCalls returns the number of requests received.
func (a *API) TotalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		n += c
	}
	return n
}

// AuthHeaders returns every Authorization header received, in order.
func (a *API) AuthHeaders() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.auth...)
}

func (a *API) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.calls[r.Method+" "+r.URL.Path]++
	a.auth = append(a.auth, r.Header.Get("Authorization"))
	a.mu.Unlock()
	a.mux.ServeHTTP(w, r)
}

// WriteJSON writes body as a JSON reply. A nil body writes no content.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

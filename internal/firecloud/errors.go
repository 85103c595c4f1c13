package firecloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoToken reports that an identity could not produce a usable access
	// token. It is never retried by the executor.
	ErrNoToken = errors.New("firecloud: no valid access token")

	// ErrNotFound matches a RemoteError whose final status was 404.
	ErrNotFound = errors.New("firecloud: not found")
)

// RemoteError is the terminal failure of a remote call after the attempt
// budget was exhausted.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int // 0 when the last attempt never got a response
	Message    string
	Attempts   int
	Body       []byte
	Err        error // transport error of the last attempt, if any
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets callers use errors.Is(err, ErrNotFound).
func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// IdentityError wraps a failed token refresh. It matches ErrNoToken.
type IdentityError struct {
	Kind   IdentityKind
	Issuer string
	Err    error
}

func (e *IdentityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no valid %s token for %s", e.Kind, e.Issuer)
	}
	return fmt.Sprintf("refreshing %s token for %s: %v", e.Kind, e.Issuer, e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

func (e *IdentityError) Is(target error) bool { return target == ErrNoToken }

// ValidationError is returned before any remote call when an argument is
// outside its allowed set.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
	Rule    string // free-form constraint when there is no fixed set
}

func (e *ValidationError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("invalid %s %q; %s", e.Field, e.Value, e.Rule)
	}
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %q; must be one of: %s", e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

func validateOneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{Field: field, Value: value, Allowed: allowed}
}

// normalizeMessage turns a failed response into a single human-readable
// message. status is the transport or status-line message ("404 Not Found").
//
// A JSON body carrying "message" yields that message. When the message
// itself embeds JSON, the embedded object's "message" is returned, or the
// embedded object verbatim when it has none. Bodies that cannot be parsed
// fall back to "<status>: <body>".
func normalizeMessage(status string, body []byte) string {
	if len(strings.TrimSpace(string(body))) == 0 {
		return status
	}

	var outer map[string]any
	if err := json.Unmarshal(body, &outer); err != nil {
		return status + ": " + string(body)
	}

	raw, ok := outer["message"]
	if !ok {
		return status
	}
	msg, ok := raw.(string)
	if !ok {
		b, _ := json.Marshal(raw)
		return string(b)
	}

	start := strings.Index(msg, "{")
	if start < 0 {
		return msg
	}

	var inner map[string]any
	embedded := msg[start:]
	if err := json.Unmarshal([]byte(embedded), &inner); err != nil {
		return status + ": " + string(body)
	}
	if m, ok := inner["message"]; ok {
		if s, ok := m.(string); ok {
			return s
		}
		b, _ := json.Marshal(m)
		return string(b)
	}
	return embedded
}

// Package logging provides structured logging with automatic secret redaction.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const component = "unity"

// Known secret field names that must be redacted in all log output.
var secretFieldNames = []string{
	"access_token",
	"accesstoken",
	"refresh_token",
	"refreshtoken",
	"id_token",
	"bearer",
	"authorization",
	"password",
	"secret",
	"private_key",
	"privatekey",
	"clientsecret",
	"credentials",
	"secret_key",
	"secretkey",
	"signed_url",
}

// RedactingWriter wraps an io.Writer and replaces the values of top-level
// secret fields in each JSON log line.
type RedactingWriter struct {
	inner io.Writer
}

// NewRedactingWriter creates a writer that redacts secret field values from log output.
func NewRedactingWriter(inner io.Writer) *RedactingWriter {
	return &RedactingWriter{inner: inner}
}

func (rw *RedactingWriter) Write(p []byte) (int, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(p, &fields); err != nil {
		return rw.inner.Write(p)
	}

	redacted := false
	for k, v := range fields {
		if !IsSecretField(k) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = string(v)
		}
		fields[k], _ = json.Marshal(RedactValue(s))
		redacted = true
	}
	if !redacted {
		return rw.inner.Write(p)
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return 0, err
	}
	if _, err := rw.inner.Write(append(out, '\n')); err != nil {
		return 0, err
	}
	return len(p), nil
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewLogger creates a human-readable logger on stderr with secret redaction.
func NewLogger(level string) zerolog.Logger {
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(&RedactingWriter{inner: writer}).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewJSONLogger creates a JSON-formatted logger for file output or machine consumption.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(&RedactingWriter{inner: w}).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// New picks the console or JSON logger by format. JSON goes to stderr.
func New(format, level string) zerolog.Logger {
	if format == "json" {
		return NewJSONLogger(os.Stderr, level)
	}
	return NewLogger(level)
}

// IsSecretField checks if a field name is a known secret field that should be redacted.
func IsSecretField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, secret := range secretFieldNames {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}

// RedactValue replaces a secret value with a safe placeholder containing a hash prefix.
func RedactValue(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return "[REDACTED:sha256:" + hex.EncodeToString(h[:])[:8] + "]"
}

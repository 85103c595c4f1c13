package firecloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/unity-portal/unity/internal/retry"
)

var successCodes = map[int]bool{
	http.StatusOK:             true,
	http.StatusCreated:        true,
	http.StatusAccepted:       true,
	http.StatusNoContent:      true,
	http.StatusPartialContent: true,
}

// Response is a successful remote reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// Acknowledged reports a success with an empty body.
func (r *Response) Acknowledged() bool {
	return len(bytes.TrimSpace(r.Body)) == 0
}

// Value returns the decoded JSON body, the raw text when the body is not
// JSON, or true when the body is empty.
func (r *Response) Value() any {
	if r.Acknowledged() {
		return true
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return string(r.Body)
	}
	return v
}

// Decode unmarshals a JSON body into v. Empty bodies leave v untouched.
func (r *Response) Decode(v any) error {
	if r.Acknowledged() || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type requestOptions struct {
	contentType string
	noRetry     bool
}

type requestOption func(*requestOptions)

// fileUpload suppresses the JSON content type; contentType is sent instead.
func fileUpload(contentType string) requestOption {
	return func(o *requestOptions) { o.contentType = contentType }
}

func noRetry() requestOption {
	return func(o *requestOptions) { o.noRetry = true }
}

// execute performs one logical call. Each invocation owns its attempt
// counter, so concurrent calls never share retry state.
func (c *Client) execute(ctx context.Context, method, path string, payload []byte, opts ...requestOption) (*Response, error) {
	ro := requestOptions{contentType: "application/json"}
	for _, opt := range opts {
		opt(&ro)
	}

	policy := c.retry
	if ro.noRetry {
		policy = retry.Once()
	}

	url := c.apiRoot + path
	attempt := 0

	op := func() (*Response, error) {
		attempt++

		tok, err := c.creds.Token(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+tok.Value)
		if ro.contentType != "" {
			req.Header.Set("Content-Type", ro.contentType)
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			rerr := &RemoteError{Method: method, Path: path, Message: err.Error(), Err: err}
			c.observe(method, path, attempt, 0, time.Since(start), rerr)
			return nil, rerr
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			rerr := &RemoteError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
			c.observe(method, path, attempt, resp.StatusCode, time.Since(start), rerr)
			return nil, rerr
		}

		if successCodes[resp.StatusCode] {
			c.observe(method, path, attempt, resp.StatusCode, time.Since(start), nil)
			return &Response{StatusCode: resp.StatusCode, Body: data}, nil
		}

		rerr := &RemoteError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    normalizeMessage(resp.Status, data),
			Body:       data,
		}
		c.observe(method, path, attempt, resp.StatusCode, time.Since(start), rerr)
		return nil, rerr
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn().
			Err(err).
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("firecloud request failed, retrying")
	}

	resp, err := backoff.RetryNotifyWithData[*Response](op, policy.BackOff(ctx), notify)
	if err == nil {
		return resp, nil
	}

	var rerr *RemoteError
	if errors.As(err, &rerr) {
		rerr.Attempts = attempt
		c.logger.Error().
			Str("method", method).
			Str("path", path).
			Int("status", rerr.StatusCode).
			Int("attempts", attempt).
			Str("error", rerr.Message).
			Msg("retry count exceeded")
		if c.metrics != nil {
			c.metrics.failures.WithLabelValues(method).Inc()
		}
	}
	return nil, err
}

func (c *Client) observe(method, path string, attempt, status int, d time.Duration, err error) {
	var ev *zerolog.Event
	if err != nil {
		ev = c.logger.Info().Err(err)
	} else {
		ev = c.logger.Debug()
	}
	ev.Str("method", method).
		Str("path", path).
		Int("attempt", attempt).
		Int("status", status).
		Dur("duration", d).
		Msg("firecloud request")

	if c.metrics != nil {
		c.metrics.observeAttempt(method, status, err)
	}
	if c.recorder != nil {
		c.recorder.RecordCall(Call{
			Issuer:     c.creds.Issuer(),
			Identity:   c.creds.Kind(),
			Method:     method,
			Path:       path,
			Attempt:    attempt,
			StatusCode: status,
			Duration:   d,
			Err:        err,
		})
	}
}

// call marshals body (when non-nil) as JSON, executes, and decodes into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}
	resp, err := c.execute(ctx, method, path, payload)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

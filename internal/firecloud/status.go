package firecloud

import (
	"context"
	"errors"
	"net/http"
)

// Status fetches the platform health report. It makes a single attempt and
// returns the decoded report even when the reply carries an error status.
func (c *Client) Status(ctx context.Context) (*SystemStatus, error) {
	var st SystemStatus
	resp, err := c.execute(ctx, http.MethodGet, "/status", nil, noRetry())
	if err == nil {
		if derr := resp.Decode(&st); derr != nil {
			return nil, derr
		}
		return &st, nil
	}

	var rerr *RemoteError
	if errors.As(err, &rerr) && len(rerr.Body) > 0 {
		if derr := (&Response{Body: rerr.Body}).Decode(&st); derr == nil {
			return &st, nil
		}
	}
	return nil, err
}

// APIAvailable reports whether the platform says it is healthy. Any failure
// counts as unavailable.
func (c *Client) APIAvailable(ctx context.Context) bool {
	st, err := c.Status(ctx)
	return err == nil && st.OK
}

// ServicesAvailable reports whether every named subsystem is healthy.
func (c *Client) ServicesAvailable(ctx context.Context, services ...string) bool {
	st, err := c.Status(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Strs("services", services).Msg("status check failed")
		return false
	}
	for _, name := range services {
		sub, ok := st.Systems[name]
		if !ok || !sub.OK {
			return false
		}
	}
	return true
}

package firecloud

import (
	"context"
	"errors"
	"net/http"
)

// Registration fetches the caller's registration record.
func (c *Client) Registration(ctx context.Context) (*Registration, error) {
	var reg Registration
	if err := c.call(ctx, http.MethodGet, "/register", nil, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Registered reports whether the caller has registered. A not-found reply
// means false; every other failure is returned unchanged.
func (c *Client) Registered(ctx context.Context) (bool, error) {
	_, err := c.Registration(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Profile fetches the caller's profile attributes.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.call(ctx, http.MethodGet, "/register/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetProfile writes profile attributes. Registration requires at least
// firstName, lastName, title, contactEmail, institute, institutionalProgram,
// programLocationCity, programLocationState and programLocationCountry.
func (c *Client) SetProfile(ctx context.Context, attrs map[string]string) error {
	return c.call(ctx, http.MethodPost, "/register/profile", attrs, nil)
}

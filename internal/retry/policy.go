// Package retry holds the bounded retry policy shared by the FireCloud
// request executor and the storage layer. Each caller keeps its own attempt
// counter; a Policy only describes how many attempts a single call may make
// and how long to wait between them.
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxAttempts is the total number of attempts a single call may make.
const DefaultMaxAttempts = 3

// Policy bounds the attempts of one logical call.
type Policy struct {
	// MaxAttempts includes the first attempt. Values below 1 mean 1.
	MaxAttempts int

	// NewBackOff returns the delay strategy between attempts. A fresh value
	// is built for every call. Nil means no delay.
	NewBackOff func() backoff.BackOff
}

// Default returns three attempts with no delay between them.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts}
}

// Once returns a policy that never retries.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// Exponential returns a policy with maxAttempts attempts separated by an
// exponential backoff.
func Exponential(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Attempts reports the effective attempt bound.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// BackOff builds the backoff for one call: the configured delay strategy,
// capped at Attempts()-1 retries and stopped when ctx is done.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	retries := p.Attempts() - 1
	if retries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

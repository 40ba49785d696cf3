// File: internal/infra/adapters/gateway/retry.go
package gateway

import (
	"context"
	"net/http"
	"time"
)

// Doer is the slice of *http.Client the adapters use. Tests substitute a
// recording fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy bounds repeated attempts against a provider. Backoff is the base
// delay; attempt n waits Backoff << (n-1).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// doWithRetry sends the request built by build, retrying transport errors up to
// MaxAttempts total attempts. Each attempt rebuilds the request so the body is
// fresh. Non-2xx responses are returned to the caller as-is; only failures to
// get a response at all are retried.
func doWithRetry(ctx context.Context, client Doer, policy RetryPolicy, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		if attempt > 1 {
			delay := policy.Backoff << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

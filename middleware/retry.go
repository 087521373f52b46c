package middleware

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/najoast/yarpc/transport"
)

// RetryPolicy controls how failed outbound calls are retried.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first
	Attempts int

	// Backoff before the first retry; doubled after each retry
	Backoff time.Duration

	// MaxBackoff caps the backoff; zero means no cap
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns three attempts starting at 10ms backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		Backoff:    10 * time.Millisecond,
		MaxBackoff: time.Second,
	}
}

// schedule returns the waits between attempts: exponential from Backoff,
// capped at MaxBackoff, ending with backoff.Stop once the attempts are
// used up.
func (p RetryPolicy) schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()

	retries := 0
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

// Retry retries outbound calls that fail with a retryable code
// (timeout, unavailable, resource-exhausted) until the policy's attempts
// are used up or ctx ends.
func Retry(policy RetryPolicy) transport.OutboundMiddleware {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return func(next transport.Outbound) transport.Outbound {
		return transport.OutboundFunc{
			Outbound: next,
			CallFunc: func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				schedule := policy.schedule()
				for {
					resp, err := next.Call(ctx, req)
					if err == nil || !transport.IsRetryable(transport.CodeOf(err)) || ctx.Err() != nil {
						return resp, err
					}

					wait := schedule.NextBackOff()
					if wait == backoff.Stop {
						return resp, err
					}
					if wait <= 0 {
						continue
					}
					timer := time.NewTimer(wait)
					select {
					case <-timer.C:
					case <-ctx.Done():
						timer.Stop()
						return resp, err
					}
				}
			},
		}
	}
}

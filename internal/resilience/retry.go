// Package resilience provides the shared retry executor and backoff schedule
// used for backend reconnects and adapter HTTP calls.
package resilience

import (
	"context"
	"time"

	"mcphub/internal/errdefs"
)

// Policy configures the retry executor. MaxRetries counts re-attempts after
// the first try, so the executor runs work at most MaxRetries+1 times.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy returns the hub-wide retry defaults: three retries with
// exponential backoff from 1s capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
	}
}

// normalized fills zero fields with defaults so a partially configured
// policy behaves sanely.
func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	return p
}

// Backoff returns the delay before re-attempt number attempt (zero-based):
// base, base*2, base*4, ... capped at MaxBackoff. The schedule is
// deterministic so reconnect timing is predictable in tests and logs.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		return p.BaseBackoff
	}
	// 1<<attempt overflows int64 past 62.
	if attempt >= 62 {
		return p.MaxBackoff
	}
	factor := int64(1) << attempt
	if factor > int64(p.MaxBackoff/p.BaseBackoff) {
		return p.MaxBackoff
	}
	return p.BaseBackoff * time.Duration(factor)
}

// Execute runs work, re-attempting on retriable failures per the error
// taxonomy allow-list. Non-retriable errors return immediately. The wait
// between attempts honors context cancellation.
func (p Policy) Execute(ctx context.Context, work func(context.Context) error) error {
	p = p.normalized()

	var err error
	for i := 0; i < p.MaxRetries+1; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = work(ctx)
		if err == nil {
			return nil
		}

		if !errdefs.Retriable(err) {
			return err
		}

		// Last attempt keeps its error.
		if i == p.MaxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(i)):
		}
	}
	return err
}

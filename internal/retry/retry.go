// Package retry holds the retry policy shared by the per-message resend
// (two attempts, no delay) and the connection-level reconnect backoff.
package retry

import (
	"context"
	"time"
)

// Backoff maps a failed attempt number (1-based) to the delay before the
// next attempt.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// None retries immediately.
type None struct{}

func (None) Delay(int) time.Duration { return 0 }

// Exponential doubles the delay on every failed attempt, starting at Base
// and never exceeding Cap.
//
// Delay(1) == Base, Delay(2) == 2*Base, ... capped at Cap.
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Cap > 0 && d >= e.Cap {
			return e.Cap
		}
	}
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}

// Policy bounds an operation's attempts.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// Do runs fn until it succeeds, the attempts are exhausted, or ctx is
// canceled. Between attempts it sleeps per the policy's backoff. The last
// error is returned; ctx errors win over fn errors.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := p.Backoff
	if bo == nil {
		bo = None{}
	}

	var last error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if i == attempts {
			break
		}
		if d := bo.Delay(i); d > 0 {
			tmr := time.NewTimer(d)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return ctx.Err()
			case <-tmr.C:
			}
		}
	}
	return last
}

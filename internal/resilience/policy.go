// Package resilience implements the retry/timeout/jitter policy wrapper
// shared by every outbound I/O call (KNX, MQTT, Snapcast, Subsonic), and
// the bounded back-pressured queue used by the notification fan-out.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/snapdog/snapdog/internal/apperr"
)

// Backoff selects how the inter-attempt delay grows with attempt number.
type Backoff int

const (
	BackoffConstant Backoff = iota
	BackoffLinear
	BackoffExponential
)

// PolicyConfig is the tunable shape of a retry policy, serialized
// one-to-one from the RESILIENCE_{CONNECTION|OPERATION}_* config keys.
type PolicyConfig struct {
	MaxRetries       int
	RetryDelay       time.Duration
	Backoff          Backoff
	UseJitter        bool
	JitterPercentage float64
	Timeout          time.Duration
}

// DefaultPolicyConfig mirrors the KNX connection defaults from spec.md
// §4.4: 3 retries, 2s initial delay, exponential backoff, 25% jitter.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxRetries:       3,
		RetryDelay:       2 * time.Second,
		Backoff:          BackoffExponential,
		UseJitter:        true,
		JitterPercentage: 25,
		Timeout:          5 * time.Second,
	}
}

// Policy wraps PolicyConfig with an attached clock-free executor: Do runs
// fn at most MaxRetries+1 times, each attempt bounded by Timeout, sleeping
// a backoff-and-jitter delay between attempts.
type Policy struct {
	cfg PolicyConfig
}

// New builds a Policy from the given config.
func New(cfg PolicyConfig) *Policy { return &Policy{cfg: cfg} }

// Do invokes fn under the policy. fn receives a context bounded by the
// per-attempt timeout. The final error is wrapped apperr.KindTimeout if
// every attempt's context deadline was exceeded, else the last error as-is.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	allTimedOut := true
	attempts := p.cfg.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return apperr.New(apperr.KindCancelled, op, ctx.Err())
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		}
		err := fn(attemptCtx)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if !timedOut {
			allTimedOut = false
		}

		if attempt == attempts-1 {
			break
		}

		delay := p.delayForAttempt(attempt)
		select {
		case <-ctx.Done():
			return apperr.New(apperr.KindCancelled, op, ctx.Err())
		case <-time.After(delay):
		}
	}

	if lastErr != nil && !allTimedOut {
		return lastErr
	}
	return apperr.New(apperr.KindTimeout, op, lastErr)
}

// delayForAttempt computes the backoff delay for the given zero-based
// attempt index, then applies jitter if enabled. The result is never
// negative.
func (p *Policy) delayForAttempt(attempt int) time.Duration {
	base := p.cfg.RetryDelay
	var d time.Duration
	switch p.cfg.Backoff {
	case BackoffLinear:
		d = base * time.Duration(attempt+1)
	case BackoffExponential:
		d = base * time.Duration(1<<uint(attempt))
	default: // BackoffConstant
		d = base
	}

	if p.cfg.UseJitter && p.cfg.JitterPercentage > 0 {
		jitterFrac := p.cfg.JitterPercentage / 100.0
		// U(0, jitterFrac) applied as 1 ± jitter, per spec.md §4.7.
		factor := 1 + (rand.Float64()*2-1)*jitterFrac
		d = time.Duration(float64(d) * factor)
	}

	if d < 0 {
		d = 0
	}
	return d
}

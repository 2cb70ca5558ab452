// Package resilience wraps the inference client with the engine's failure
// policy: bounded call timeouts, retries with jittered exponential backoff
// for transient faults, and a circuit breaker that sheds load when the
// service is persistently down.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"enmap/internal/config"
	"enmap/internal/inference"
	"enmap/internal/logging"
	"enmap/internal/types"
)

// ErrCircuitOpen is returned without touching the service while the breaker
// is open. Callers treat it like any other service failure and fall back.
var ErrCircuitOpen = errors.New("inference circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker. It opens after
// threshold consecutive failures and re-closes after the cooldown; a single
// success resets the count.
type Breaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time

	threshold int
	cooldown  time.Duration
}

// NewBreaker creates a breaker. threshold <= 0 disables it.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	if b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if time.Now().After(b.openUntil) {
		// Half-open: let one call through to probe the service.
		b.openUntil = time.Time{}
		b.failures = b.threshold - 1
		return true
	}
	return false
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		logging.Resilience("circuit breaker opened for %s after %d consecutive failures", b.cooldown, b.failures)
	}
}

// Open reports whether the breaker currently rejects calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && time.Now().Before(b.openUntil)
}

// Executor runs inference calls under the failure policy.
type Executor struct {
	client  inference.Client
	breaker *Breaker

	callTimeout    time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	jitterFraction float64

	// sleep is replaceable in tests.
	sleep func(context.Context, time.Duration) error
}

// NewExecutor wraps client with the configured policy.
func NewExecutor(client inference.Client, infCfg config.InferenceConfig, resCfg config.ResilienceConfig) *Executor {
	return &Executor{
		client:         client,
		breaker:        NewBreaker(resCfg.BreakerThreshold, resCfg.BreakerCooldownDuration()),
		callTimeout:    infCfg.TimeoutDuration(),
		maxRetries:     resCfg.MaxRetries,
		initialBackoff: resCfg.InitialBackoffDuration(),
		maxBackoff:     resCfg.MaxBackoffDuration(),
		jitterFraction: resCfg.JitterFraction,
		sleep:          sleepCtx,
	}
}

// MapPoint executes one logical inference call: up to 1+maxRetries
// attempts, each under its own timeout. Only transient faults are retried;
// malformed responses and validation faults surface immediately.
func (e *Executor) MapPoint(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	if !e.breaker.Allow() {
		logging.ResilienceDebug("dropping call for %s: breaker open", req.PointName)
		return nil, ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return nil, err
			}
			logging.ResilienceDebug("retry %d/%d for %s", attempt, e.maxRetries, req.PointName)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.callTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		}
		resp, err := e.client.MapPoint(attemptCtx, req)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			e.breaker.RecordSuccess()
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			// The caller's budget is gone; stop regardless of error class.
			e.breaker.RecordFailure()
			return nil, lastErr
		}
		if !types.IsTransient(err) {
			// Malformed or rejected requests will fail identically on retry.
			e.breaker.RecordFailure()
			return nil, err
		}
		e.breaker.RecordFailure()
	}

	return nil, lastErr
}

// Name returns the underlying provider name.
func (e *Executor) Name() string { return e.client.Name() }

// BreakerOpen reports breaker state for status surfaces.
func (e *Executor) BreakerOpen() bool { return e.breaker.Open() }

// backoff computes the pause before the given retry attempt (1-based):
// exponential growth from the initial backoff, capped, plus jitter to keep
// concurrent workers from retrying in lockstep.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.initialBackoff
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.maxBackoff > 0 && d >= e.maxBackoff {
			d = e.maxBackoff
			break
		}
	}
	if e.jitterFraction > 0 {
		jitter := time.Duration(rand.Float64() * e.jitterFraction * float64(d))
		d += jitter
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

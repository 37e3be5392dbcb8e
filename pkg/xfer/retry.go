// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// RetryConfig configures the Retry Engine (spec §4.5).
type RetryConfig struct {
	// Enabled turns retrying on or off entirely. Default true.
	Enabled bool
	// MaxDuration caps cumulative wait time across retries. Default 60s.
	// Ignored when MaxCount is set (> 0).
	MaxDuration time.Duration
	// MaxCount, if > 0, overrides MaxDuration and caps the attempt count.
	MaxCount int
	// InitialDelay is the wait before the first retry. Default 100ms.
	InitialDelay time.Duration
	// Backoff is the multiplier applied to the delay after each attempt.
	// Default 2.0.
	Backoff float64
	// RetryAllErrors makes 4xx statuses retryable too (they are not by
	// default).
	RetryAllErrors bool
}

// DefaultRetryConfig returns the spec-mandated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxDuration:  60 * time.Second,
		InitialDelay: 100 * time.Millisecond,
		Backoff:      2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.Backoff <= 0 {
		c.Backoff = 2.0
	}
	if c.MaxDuration <= 0 && c.MaxCount <= 0 {
		c.MaxDuration = 60 * time.Second
	}
	return c
}

// retryableError reports whether err should be retried under cfg, per
// spec §4.5 and §7: HTTP >= 500 and transport errors always retry; 4xx
// retries only when RetryAllErrors; RangeNotRespected/Truncated/pool
// exhaustion never retry.
func retryableError(err error, cfg RetryConfig) bool {
	if err == nil {
		return false
	}
	if IsFatalPartError(err) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status >= 500 {
			return true
		}
		if statusErr.Status >= 400 {
			return cfg.RetryAllErrors
		}
		return false
	}

	var connectErr *HTTPConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// backoffSequence implements exponential backoff with jitter (spec §4.5: attempt k
// waits InitialDelay * Backoff^k before retrying).
type backoffSequence struct {
	next   time.Duration
	max    time.Duration
	mult   float64
	jitter time.Duration
}

func newBackoffSequence(cfg RetryConfig) *backoffSequence {
	max := cfg.MaxDuration
	if max <= 0 {
		max = 10 * time.Minute // MaxCount-driven: duration cap is not in effect
	}
	return &backoffSequence{
		next:   cfg.InitialDelay,
		max:    max,
		mult:   cfg.Backoff,
		jitter: cfg.InitialDelay / 4,
	}
}

func (b *backoffSequence) next_() time.Duration {
	d := b.next
	if b.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.jitter) + 1))
	}
	b.next = time.Duration(float64(b.next) * b.mult)
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// sleepCtx waits for d or returns ctx.Err() if ctx is canceled first.
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

// withRetry runs attempt repeatedly until it succeeds, a fatal/
// non-retryable error is returned, or the retry budget (MaxDuration or
// MaxCount) is exhausted. attempt is called with a 0-based attempt index.
func withRetry(ctx context.Context, cfg RetryConfig, emit func(attempt int, err error), attempt func(n int) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	seq := newBackoffSequence(cfg)
	deadline := time.Time{}
	if cfg.MaxCount <= 0 {
		deadline = time.Now().Add(cfg.MaxDuration)
	}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(n)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.Enabled || !retryableError(err, cfg) {
			return lastErr
		}
		if cfg.MaxCount > 0 && n+1 >= cfg.MaxCount {
			return lastErr
		}
		if cfg.MaxCount <= 0 && !deadline.IsZero() && time.Now().After(deadline) {
			return lastErr
		}

		if emit != nil {
			emit(n+1, err)
		}
		d := seq.next_()
		if cfg.MaxCount <= 0 && time.Now().Add(d).After(deadline) {
			// Let the final sleep land on the deadline rather than
			// overshooting it, then make one last attempt.
			if rem := time.Until(deadline); rem > 0 {
				d = rem
			}
		}
		if err := sleepCtx(ctx, d); err != nil {
			return err
		}
	}
}

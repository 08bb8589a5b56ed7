package worker

import (
	"math"
	"math/rand/v2"
	"time"

	"reservas/internal/config"
)

// RetryPolicy defines exponential backoff for outbox tasks. Jitter spreads
// each delay by up to that fraction so split workers do not retry in step.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
}

// RetryPolicyFromConfig reads the worker section; unset values fall back to
// the config defaults.
func RetryPolicyFromConfig(cfg config.WorkerConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.InitialDelayDuration(),
		MaxDelay:      cfg.MaxDelayDuration(),
		BackoffFactor: cfg.BackoffFactor,
		Jitter:        cfg.Jitter,
	}.withDefaults()
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 2 * time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = time.Minute
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}
	r.Jitter = min(max(r.Jitter, 0), 1)
	return r
}

// Exhausted reports whether a task that already failed retryCount times
// should stop retrying after the current failure.
func (r RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount+1 >= r.MaxRetries
}

// NextDelay returns the wait before attempt (1-based), capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	r = r.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if r.Jitter > 0 {
		delay *= 1 + r.Jitter*(2*rand.Float64()-1)
	}
	delay = min(delay, float64(r.MaxDelay))
	if delay < float64(time.Millisecond) {
		return time.Millisecond
	}
	return time.Duration(delay)
}

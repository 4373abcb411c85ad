// Package ratelimit paces outbound catalog requests with a token bucket.
// Pacing only delays requests; it never rejects them.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	catalogRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_waits_total",
		Help: "Total number of requests delayed by the rate limiter",
	})

	catalogRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for a rate limit token",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

// ErrBurstExceeded is returned when a reservation can never be satisfied
// with the configured burst.
var ErrBurstExceeded = errors.New("rate limiter burst exceeded")

// Config holds limiter configuration.
type Config struct {
	// RequestsPerSecond is the sustained request rate. Zero or less disables pacing.
	RequestsPerSecond float64

	// Burst is the maximum number of requests sent back to back.
	Burst int
}

// DefaultConfig returns a pacing configuration that is polite to public APIs.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             20,
	}
}

// Enabled reports whether the configuration actually limits anything.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// State is a point-in-time view of the limiter.
type State struct {
	Limit  float64 `json:"limit"`
	Burst  int     `json:"burst"`
	Tokens float64 `json:"tokens"`
}

// Limiter wraps a token bucket with logging and metrics.
// A nil *Limiter is valid and never waits.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a limiter from cfg. It returns nil when pacing is disabled.
func New(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if cfg.Burst < 1 {
		return nil, fmt.Errorf("burst must be >= 1 (got %d)", cfg.Burst)
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}, nil
}

// Wait blocks until a request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	r := l.limiter.Reserve()
	if !r.OK() {
		return ErrBurstExceeded
	}

	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	catalogRateLimitWaitsTotal.Inc()
	catalogRateLimitWaitSeconds.Observe(delay.Seconds())
	l.logger.Debug().Dur("delay", delay).Msg("Rate limiter delaying request")

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State returns the current limiter state.
func (l *Limiter) State() State {
	if l == nil {
		return State{Limit: float64(rate.Inf)}
	}
	return State{
		Limit:  float64(l.limiter.Limit()),
		Burst:  l.limiter.Burst(),
		Tokens: l.limiter.Tokens(),
	}
}

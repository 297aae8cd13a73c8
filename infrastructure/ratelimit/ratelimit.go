// Package ratelimit wraps a token-bucket limiter around the command
// server's inbound /api/verification/run endpoint, so one slow client
// issuing repeated verification runs cannot starve the others.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// RateLimitConfig configures one RateLimiter's token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// RateLimiter is a thin wrapper over golang.org/x/time/rate, defaulting
// an unset or non-positive configuration to a sane fallback rather than
// rejecting every request.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New builds a RateLimiter from cfg, defaulting RequestsPerSecond to 100
// and Burst to twice that when left unset.
func New(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Allow reports whether one token is available right now, consuming it
// if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

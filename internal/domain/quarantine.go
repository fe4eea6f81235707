package domain

import (
	"math"
	"time"
)

const (
	GeneralQuarantine   = 5 * time.Minute
	RateLimitQuarantine = 30 * time.Minute
	MaxQuarantine       = time.Hour
	MaxJitter           = time.Second

	maxBackoffExponent = 4
)

// QuarantineDuration returns the cooldown for an account whose failure
// score is failures, before jitter:
// min(base * 2^min(failures-1, 4), 1h).
func QuarantineDuration(failures float64, rateLimited bool) time.Duration {
	base := GeneralQuarantine
	if rateLimited {
		base = RateLimitQuarantine
	}

	exponent := math.Min(failures-1, maxBackoffExponent)
	scaled := time.Duration(float64(base) * math.Pow(2, exponent))
	if scaled > MaxQuarantine {
		return MaxQuarantine
	}
	return scaled
}

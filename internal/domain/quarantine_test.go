package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuarantineDurationGrowsWithFailures(t *testing.T) {
	t.Parallel()

	previous := time.Duration(0)
	for failures := 1.0; failures <= 4; failures++ {
		got := QuarantineDuration(failures, false)
		assert.Greater(t, got, previous, "failures=%v", failures)
		previous = got
	}
}

func TestQuarantineDurationRateLimitIsLonger(t *testing.T) {
	t.Parallel()

	for _, failures := range []float64{1, 1.1, 2} {
		assert.Greater(t, QuarantineDuration(failures, true), QuarantineDuration(failures, false), "failures=%v", failures)
	}
}

func TestQuarantineDurationValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		failures    float64
		rateLimited bool
		want        time.Duration
	}{
		{name: "first generic failure", failures: 1, want: 5 * time.Minute},
		{name: "second generic failure", failures: 2, want: 10 * time.Minute},
		{name: "fourth generic failure", failures: 4, want: 40 * time.Minute},
		{name: "generic capped at one hour", failures: 9, want: time.Hour},
		{name: "first rate limit", failures: 1, rateLimited: true, want: 30 * time.Minute},
		{name: "rate limit capped at one hour", failures: 3, rateLimited: true, want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuarantineDuration(tt.failures, tt.rateLimited))
		})
	}
}

func TestUpstreamErrorClassification(t *testing.T) {
	t.Parallel()

	rateLimited := fmt.Errorf("call: %w", &UpstreamError{StatusCode: http.StatusTooManyRequests})
	assert.True(t, IsRateLimited(rateLimited))
	assert.False(t, IsUnauthorized(rateLimited))

	unauthorized := &UpstreamError{StatusCode: http.StatusUnauthorized, Body: "expired"}
	assert.True(t, IsUnauthorized(unauthorized))
	assert.Equal(t, "upstream returned status 401: expired", unauthorized.Error())

	assert.Equal(t, 0, StatusCode(errors.New("boom")))
}

package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrNoValidCredentials = errors.New("no valid credentials")
	ErrPoolExhausted      = errors.New("all credentials failed or are frozen")
	ErrNoProjectID        = errors.New("account has no project id")
	ErrDiscoveryTimeout   = errors.New("onboarding timed out")
	ErrDiscoveryFailed    = errors.New("project discovery failed")
)

// UpstreamError is returned for any non-2xx upstream response.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// StatusCode extracts the upstream status code from err, or 0.
func StatusCode(err error) int {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode
	}
	return 0
}

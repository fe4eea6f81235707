package ports

import (
	"context"
	"io"
)

// Upstream issues authenticated calls against the code assist API.
// Call posts body to the named method and returns the raw response body,
// which the caller must close. Non-2xx responses are returned as
// *domain.UpstreamError.
type Upstream interface {
	Call(ctx context.Context, accessToken, method string, body []byte) (io.ReadCloser, error)
	GetOperation(ctx context.Context, accessToken, name string) ([]byte, error)
}

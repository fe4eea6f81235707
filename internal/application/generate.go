package application

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/sjson"
)

const streamGenerateMethod = "streamGenerateContent"

// StreamGenerateContent sends payload to the streaming generation method
// through the pool. The selected account's project is written into the
// payload's top-level "project" field before each attempt. The returned
// body is owned by the caller.
func (p *PoolService) StreamGenerateContent(ctx context.Context, payload []byte) (io.ReadCloser, error) {
	return Execute(ctx, p, func(ctx context.Context, call CallFunc, projectID string) (io.ReadCloser, error) {
		body, err := sjson.SetBytes(payload, "project", projectID)
		if err != nil {
			return nil, fmt.Errorf("bind project: %w", err)
		}
		return call(ctx, streamGenerateMethod, body)
	})
}

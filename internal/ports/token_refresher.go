package ports

import (
	"context"

	"github.com/bnema/gemini-pool/internal/domain"
)

type TokenRefresher interface {
	Refresh(ctx context.Context, token domain.TokenPair) (domain.TokenPair, error)
}

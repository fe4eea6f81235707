package ports

import (
	"context"

	"github.com/bnema/gemini-pool/internal/domain"
)

// CredentialStore persists one credential record per account. List skips
// records it cannot parse; it only fails when the store itself is
// unreadable.
type CredentialStore interface {
	List(ctx context.Context) ([]domain.CredentialRecord, error)
	Save(ctx context.Context, record domain.CredentialRecord) error
}

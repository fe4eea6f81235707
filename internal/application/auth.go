package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/gemini-pool/internal/domain"
	log "github.com/sirupsen/logrus"
)

// ensureAuthenticated refreshes the account's token when it has expired.
func (p *PoolService) ensureAuthenticated(ctx context.Context, account *domain.Account) error {
	if !account.Token().Expired(p.clock.Now()) {
		return nil
	}
	log.WithField("account", account.ID).Info("access token expired, refreshing")
	return p.refresh(ctx, account)
}

func (p *PoolService) refresh(ctx context.Context, account *domain.Account) error {
	current := account.Token()
	if strings.TrimSpace(current.RefreshToken) == "" {
		return fmt.Errorf("token refresh failed for %s: missing refresh token", account.ID)
	}

	refreshed, err := p.refresher.Refresh(ctx, current)
	if err != nil {
		return fmt.Errorf("token refresh failed for %s: %w", account.ID, err)
	}
	if strings.TrimSpace(refreshed.AccessToken) == "" {
		return fmt.Errorf("token refresh failed for %s: %w", account.ID, errors.New("empty access token"))
	}

	account.SetToken(current.Merge(refreshed, p.clock.Now()))
	p.persist(ctx, account)
	log.WithField("account", account.ID).Info("token refreshed and saved")
	return nil
}

// persist writes the account back to the store. Save failures are logged
// and never fail the request that caused them.
func (p *PoolService) persist(ctx context.Context, account *domain.Account) {
	if err := p.store.Save(ctx, account.Record()); err != nil {
		log.WithError(err).WithField("account", account.ID).Error("failed to save credentials")
	}
}

package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/bnema/gemini-pool/internal/ports"
	"golang.org/x/oauth2"
)

var ErrRefreshTokenInvalid = errors.New("refresh token is invalid or revoked")

// Refresher exchanges refresh tokens for new access tokens.
type Refresher struct {
	config *oauth2.Config
	client *http.Client
}

var _ ports.TokenRefresher = (*Refresher)(nil)

// NewRefresher builds a refresher. Token requests go through client when
// it is non-nil, so they share the pool's transport and proxy.
func NewRefresher(config *oauth2.Config, client *http.Client) *Refresher {
	return &Refresher{config: config, client: client}
}

func (r *Refresher) Refresh(ctx context.Context, token domain.TokenPair) (domain.TokenPair, error) {
	if strings.TrimSpace(token.RefreshToken) == "" {
		return domain.TokenPair{}, errors.New("refresh token is empty")
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken})
	refreshed, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return domain.TokenPair{}, fmt.Errorf("%w: %s", ErrRefreshTokenInvalid, retrieveErr.ErrorDescription)
		}
		return domain.TokenPair{}, fmt.Errorf("refresh access token: %w", err)
	}

	return toTokenPair(refreshed), nil
}

func toTokenPair(token *oauth2.Token) domain.TokenPair {
	return domain.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
	}
}

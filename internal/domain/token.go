package domain

import (
	"strings"
	"time"
)

const DefaultTokenType = "Bearer"

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// Expired reports whether the access token expired strictly before now.
func (t TokenPair) Expired(now time.Time) bool {
	return t.Expiry.Before(now)
}

// Merge applies a refreshed token on top of t. A refresh response that
// omits the refresh token keeps the previous one.
func (t TokenPair) Merge(refreshed TokenPair, now time.Time) TokenPair {
	merged := refreshed
	if strings.TrimSpace(merged.RefreshToken) == "" {
		merged.RefreshToken = t.RefreshToken
	}
	if strings.TrimSpace(merged.TokenType) == "" {
		merged.TokenType = DefaultTokenType
	}
	if merged.Expiry.IsZero() {
		merged.Expiry = now.Add(time.Hour)
	}
	return merged
}

// CredentialRecord is one stored credential; ID identifies the backing
// record in the credential store.
type CredentialRecord struct {
	ID        AccountID
	ProjectID string
	Token     TokenPair
}

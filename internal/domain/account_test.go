package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewAccountStartsAtScoreFloor(t *testing.T) {
	t.Parallel()

	account := NewAccount(CredentialRecord{ID: "a.json", ProjectID: "proj"})
	success, failure := account.Scores()

	assert.Equal(t, MinScore, success)
	assert.Equal(t, MinScore, failure)
	assert.Equal(t, "proj", account.ProjectID())
	assert.False(t, account.Warm())
}

func TestAccountRecordOutcomes(t *testing.T) {
	t.Parallel()

	account := NewAccount(CredentialRecord{ID: "a.json"})
	account.RecordSuccess()
	account.RecordSuccess()
	failures := account.RecordFailure()

	success, failure := account.Scores()
	assert.InDelta(t, 2.1, success, 1e-9)
	assert.InDelta(t, 1.1, failure, 1e-9)
	assert.InDelta(t, 1.1, failures, 1e-9)
}

func TestAccountDecayNeverFallsBelowFloor(t *testing.T) {
	t.Parallel()

	account := NewAccount(CredentialRecord{ID: "a.json"})
	account.SetScores(10, 0.1)

	account.Decay(0.5)
	success, failure := account.Scores()
	assert.InDelta(t, 5, success, 1e-9)
	assert.Equal(t, MinScore, failure)

	for i := 0; i < 100; i++ {
		account.Decay(0.5)
	}
	success, _ = account.Scores()
	assert.Equal(t, MinScore, success)
}

func TestAccountAvailability(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	account := NewAccount(CredentialRecord{ID: "a.json"})
	assert.True(t, account.Available(now))

	account.QuarantineUntil(now.Add(time.Minute))
	assert.False(t, account.Available(now))
	assert.True(t, account.Available(now.Add(time.Minute)))

	account.Unfreeze()
	assert.True(t, account.Available(now))
	assert.True(t, account.QuarantinedUntil().IsZero())
}

func TestTokenPairMergeKeepsRefreshToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	previous := TokenPair{AccessToken: "old", RefreshToken: "refresh-1", TokenType: "Bearer"}

	merged := previous.Merge(TokenPair{AccessToken: "new"}, now)
	assert.Equal(t, "new", merged.AccessToken)
	assert.Equal(t, "refresh-1", merged.RefreshToken)
	assert.Equal(t, DefaultTokenType, merged.TokenType)
	assert.Equal(t, now.Add(time.Hour), merged.Expiry)

	rotated := previous.Merge(TokenPair{AccessToken: "new", RefreshToken: "refresh-2", Expiry: now.Add(time.Minute)}, now)
	assert.Equal(t, "refresh-2", rotated.RefreshToken)
	assert.Equal(t, now.Add(time.Minute), rotated.Expiry)
}

func TestTokenPairExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	assert.True(t, TokenPair{Expiry: now.Add(-time.Second)}.Expired(now))
	assert.False(t, TokenPair{Expiry: now}.Expired(now))
	assert.False(t, TokenPair{Expiry: now.Add(time.Second)}.Expired(now))
}

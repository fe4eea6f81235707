package application

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestStreamGenerateContentRetriesOnNextAccount(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{
		validRecord("a", "proj-a"),
		validRecord("b", "proj-b"),
	}, PoolOptions{DecayFactor: 1})
	f.upstream.handle = func(token, _ string, _ []byte) ([]byte, error) {
		if token == "tok-a" {
			return nil, &domain.UpstreamError{StatusCode: http.StatusInternalServerError, Body: "boom"}
		}
		return []byte(`[{"ok":true}]`), nil
	}
	require.NoError(t, f.svc.Ready(context.Background()))

	f.account("a").SetScores(1000, 0.1)
	f.account("b").SetScores(0.1, 1000)

	rc, err := f.svc.StreamGenerateContent(context.Background(), []byte(`{"model":"gemini-2.5-pro","request":{"contents":[]}}`))
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `[{"ok":true}]`, string(body))

	calls := f.upstream.Calls(streamGenerateMethod)
	require.Len(t, calls, 2)
	assert.Equal(t, "proj-a", gjson.Get(calls[0].Body, "project").String())
	assert.Equal(t, "proj-b", gjson.Get(calls[1].Body, "project").String())
	assert.Equal(t, "gemini-2.5-pro", gjson.Get(calls[1].Body, "model").String())

	failed := f.account("a")
	assert.False(t, failed.Available(testNow))
	_, failures := failed.Scores()
	assert.InDelta(t, 1.1, failures, 1e-9)
	cooldown := domain.QuarantineDuration(failures, false)
	until := failed.QuarantinedUntil()
	assert.False(t, until.Before(testNow.Add(cooldown)))
	assert.False(t, until.After(testNow.Add(cooldown+domain.MaxJitter)))

	success, _ := f.account("b").Scores()
	assert.Greater(t, success, 1.0)
}

func TestExecuteRateLimitUsesLongerQuarantine(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{validRecord("a", "proj-a")}, PoolOptions{})
	f.upstream.handle = func(string, string, []byte) ([]byte, error) {
		return nil, &domain.UpstreamError{StatusCode: http.StatusTooManyRequests}
	}

	_, err := f.svc.StreamGenerateContent(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.True(t, domain.IsRateLimited(err))

	account := f.account("a")
	_, failures := account.Scores()
	assert.False(t, account.QuarantinedUntil().Before(testNow.Add(domain.QuarantineDuration(failures, true))))
	assert.False(t, account.QuarantinedUntil().Before(testNow.Add(domain.RateLimitQuarantine)))
}

func TestExecuteTriesEachAccountOnceThenExhausts(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{
		validRecord("a", "p1"),
		validRecord("b", "p2"),
		validRecord("c", "p3"),
	}, PoolOptions{})
	f.upstream.handle = func(string, string, []byte) ([]byte, error) {
		return nil, &domain.UpstreamError{StatusCode: http.StatusBadGateway}
	}

	_, err := f.svc.StreamGenerateContent(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Contains(t, err.Error(), "after 3 attempts")

	tokens := map[string]int{}
	for _, call := range f.upstream.Calls(streamGenerateMethod) {
		tokens[call.Token]++
	}
	assert.Equal(t, map[string]int{"tok-a": 1, "tok-b": 1, "tok-c": 1}, tokens)

	for _, status := range f.svc.Statuses() {
		assert.False(t, status.Available, status.ID)
	}
}

func TestExecuteFailsFastWhenAllQuarantined(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{validRecord("a", "p1")}, PoolOptions{})
	require.NoError(t, f.svc.Ready(context.Background()))
	f.account("a").QuarantineUntil(testNow.Add(time.Hour))

	_, err := f.svc.StreamGenerateContent(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Empty(t, f.upstream.Calls(streamGenerateMethod))
}

func TestExecuteRetriesOnceAfterUnauthorized(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{validRecord("a", "p1")}, PoolOptions{})
	f.upstream.handle = func(token, _ string, _ []byte) ([]byte, error) {
		if token == "tok-a" {
			return nil, &domain.UpstreamError{StatusCode: http.StatusUnauthorized}
		}
		return []byte(`[]`), nil
	}
	f.refresher.next = func(domain.TokenPair) (domain.TokenPair, error) {
		return domain.TokenPair{AccessToken: "tok-a2", RefreshToken: "refresh-a2", Expiry: testNow.Add(time.Hour)}, nil
	}

	rc, err := f.svc.StreamGenerateContent(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, 1, f.refresher.Calls())
	calls := f.upstream.Calls(streamGenerateMethod)
	require.Len(t, calls, 2)
	assert.Equal(t, "tok-a2", calls[1].Token)

	saved, ok := f.store.Saved("a")
	require.True(t, ok)
	assert.Equal(t, "refresh-a2", saved.Token.RefreshToken)
}

func TestExecuteUnauthorizedWithFailedRefreshQuarantines(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{validRecord("a", "p1")}, PoolOptions{})
	f.upstream.handle = func(string, string, []byte) ([]byte, error) {
		return nil, &domain.UpstreamError{StatusCode: http.StatusUnauthorized}
	}

	_, err := f.svc.StreamGenerateContent(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.True(t, domain.IsUnauthorized(err))
	assert.Len(t, f.upstream.Calls(streamGenerateMethod), 1)
	assert.False(t, f.account("a").Available(testNow))
}

func TestExecuteCancellationDoesNotQuarantine(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{validRecord("a", "p1")}, PoolOptions{})
	require.NoError(t, f.svc.Ready(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	f.upstream.handle = func(string, string, []byte) ([]byte, error) {
		cancel()
		return nil, context.Canceled
	}

	_, err := f.svc.StreamGenerateContent(ctx, []byte(`{}`))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, domain.ErrPoolExhausted))

	account := f.account("a")
	assert.True(t, account.Available(testNow))
	_, failures := account.Scores()
	assert.InDelta(t, domain.MinScore, failures, 0.01)
}

func TestExecuteWarmsColdAccountInline(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{validRecord("a", "p1")}, PoolOptions{})
	f.upstream.handle = func(string, string, []byte) ([]byte, error) {
		return []byte(`[]`), nil
	}
	require.NoError(t, f.svc.Ready(context.Background()))
	f.account("a").SetWarm(false)

	result, err := Execute(context.Background(), f.svc, func(_ context.Context, _ CallFunc, projectID string) (string, error) {
		return projectID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", result)
	assert.True(t, f.account("a").Warm())
}

func TestExecuteColdAccountFailingWarmUpMovesOn(t *testing.T) {
	t.Parallel()

	f := newPoolFixture([]domain.CredentialRecord{
		validRecord("a", "p1"),
		validRecord("b", "p2"),
	}, PoolOptions{})
	require.NoError(t, f.svc.Ready(context.Background()))

	cold := f.account("a")
	cold.SetWarm(false)
	cold.SetToken(domain.TokenPair{AccessToken: "stale", Expiry: testNow.Add(-time.Minute)})

	result, err := Execute(context.Background(), f.svc, func(_ context.Context, _ CallFunc, projectID string) (string, error) {
		return projectID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "p2", result)

	assert.False(t, cold.Available(testNow))
	_, failures := cold.Scores()
	assert.InDelta(t, 1.1, failures, 0.01)
}

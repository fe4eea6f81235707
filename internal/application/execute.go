package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/bnema/gemini-pool/internal/observability"
	log "github.com/sirupsen/logrus"
)

// CallFunc issues one upstream call bound to the selected account.
type CallFunc func(ctx context.Context, method string, body []byte) (io.ReadCloser, error)

// RequestExecutor performs the caller's work against one account. The
// result is handed back to the caller untouched on success.
type RequestExecutor[T any] func(ctx context.Context, call CallFunc, projectID string) (T, error)

var errStillQuarantined = errors.New("account quarantined during warm-up")

// maxReselects bounds how often one request may draw an account it has
// already tried before giving up.
const maxReselects = 64

// Execute runs executor against accounts chosen by the pool until one
// succeeds. Each account is tried at most once per request; a failing
// account is quarantined before the next attempt.
func Execute[T any](ctx context.Context, p *PoolService, executor RequestExecutor[T]) (T, error) {
	var zero T

	if err := p.Ready(ctx); err != nil {
		return zero, err
	}

	maxAttempts := p.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.Size() + 1
	}

	attempted := make(map[domain.AccountID]struct{}, maxAttempts)
	var lastErr error
	attempts, reselects := 0, 0

	for attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		account := p.SelectAccount()
		if account == nil {
			break
		}

		if _, seen := attempted[account.ID]; seen {
			reselects++
			if reselects > maxReselects || !p.hasUntried(attempted) {
				break
			}
			continue
		}
		attempted[account.ID] = struct{}{}
		attempts++

		logger := log.WithFields(log.Fields{"account": account.ID, "attempt": attempts})

		result, err := attempt(ctx, p, account, executor)
		if err == nil {
			account.RecordSuccess()
			observability.PoolAttemptsTotal.WithLabelValues("success").Inc()
			logger.Debug("request succeeded")
			return result, nil
		}

		if ctx.Err() != nil {
			observability.PoolAttemptsTotal.WithLabelValues("cancelled").Inc()
			return zero, ctx.Err()
		}

		lastErr = err
		if errors.Is(err, errStillQuarantined) {
			observability.PoolAttemptsTotal.WithLabelValues("skipped").Inc()
			logger.Debug("account froze during warm-up, trying next")
			continue
		}

		observability.PoolAttemptsTotal.WithLabelValues("failure").Inc()
		p.quarantineAfterFailure(account, err)
		logger.WithError(err).Warn("request failed, trying next account")
	}

	if lastErr != nil {
		return zero, fmt.Errorf("%w after %d attempts: %w", domain.ErrPoolExhausted, attempts, lastErr)
	}
	return zero, fmt.Errorf("%w after %d attempts", domain.ErrPoolExhausted, attempts)
}

func attempt[T any](ctx context.Context, p *PoolService, account *domain.Account, executor RequestExecutor[T]) (T, error) {
	var zero T

	if !account.Warm() {
		if err := p.warmUpAccount(ctx, account); err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, fmt.Errorf("%w: %w", errStillQuarantined, err)
		}
	}

	if err := p.ensureAuthenticated(ctx, account); err != nil {
		return zero, err
	}

	projectID := account.ProjectID()
	if projectID == "" {
		return zero, domain.ErrNoProjectID
	}

	return executor(ctx, p.boundCall(account), projectID)
}

// boundCall returns a CallFunc that authenticates with the account's
// current token. An unauthorized response triggers one forced refresh
// and a single retry.
func (p *PoolService) boundCall(account *domain.Account) CallFunc {
	return func(ctx context.Context, method string, body []byte) (io.ReadCloser, error) {
		rc, err := p.upstream.Call(ctx, account.Token().AccessToken, method, body)
		if err == nil || !domain.IsUnauthorized(err) {
			return rc, err
		}

		log.WithField("account", account.ID).Info("upstream rejected token, forcing refresh")
		if refreshErr := p.refresh(ctx, account); refreshErr != nil {
			return nil, fmt.Errorf("%w (refresh failed: %v)", err, refreshErr)
		}
		return p.upstream.Call(ctx, account.Token().AccessToken, method, body)
	}
}

// quarantineAfterFailure records the failure and freezes the account for
// an exponentially growing cooldown. Rate limiting earns the longer base.
func (p *PoolService) quarantineAfterFailure(account *domain.Account, err error) {
	failures := account.RecordFailure()
	rateLimited := domain.IsRateLimited(err)

	cooldown := domain.QuarantineDuration(failures, rateLimited) + p.jitter(domain.MaxJitter)
	account.QuarantineUntil(p.clock.Now().Add(cooldown))

	reason := "error"
	if rateLimited {
		reason = "rate_limit"
	}
	observability.PoolQuarantinesTotal.WithLabelValues(reason).Inc()

	log.WithFields(log.Fields{
		"account":  account.ID,
		"reason":   reason,
		"cooldown": cooldown.Round(time.Second),
	}).Warn("account frozen")
}

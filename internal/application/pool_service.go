package application

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/bnema/gemini-pool/internal/observability"
	"github.com/bnema/gemini-pool/internal/ports"
	log "github.com/sirupsen/logrus"
)

type PoolOptions struct {
	// MaxAttempts caps attempts per request; zero means pool size + 1.
	MaxAttempts int
	// DecayFactor is applied to every score before each selection; zero
	// means domain.DefaultDecayFactor and 1 disables decay.
	DecayFactor float64
	// Rand seeds the sampler and jitter; nil uses a time-seeded source.
	Rand *rand.Rand
	// Sleep waits between onboarding polls; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type idleConnCloser interface {
	CloseIdleConnections()
}

// PoolService owns the set of accounts and schedules requests across them.
type PoolService struct {
	store     ports.CredentialStore
	refresher ports.TokenRefresher
	upstream  ports.Upstream
	clock     ports.Clock

	maxAttempts int
	decayFactor float64
	sleep       func(ctx context.Context, d time.Duration) error

	rngMu   sync.Mutex
	sampler *Sampler

	startOnce sync.Once
	closeOnce sync.Once
	ready     chan struct{}
	initErr   error

	mu       sync.RWMutex
	accounts []*domain.Account
}

func NewPoolService(store ports.CredentialStore, refresher ports.TokenRefresher, upstream ports.Upstream, clock ports.Clock, opts PoolOptions) *PoolService {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	decay := opts.DecayFactor
	if decay <= 0 || decay > 1 {
		decay = domain.DefaultDecayFactor
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &PoolService{
		store:       store,
		refresher:   refresher,
		upstream:    upstream,
		clock:       clock,
		maxAttempts: opts.MaxAttempts,
		decayFactor: decay,
		sleep:       sleep,
		sampler:     NewSampler(rng),
		ready:       make(chan struct{}),
	}
}

// Start begins asynchronous initialization. Only the first call has an
// effect.
func (p *PoolService) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go func() {
			p.initErr = p.initialize(ctx)
			if p.initErr != nil {
				log.WithError(p.initErr).Error("pool initialization failed")
			}
			close(p.ready)
		}()
	})
}

// Ready waits for initialization and returns its error. It starts the
// pool if nobody has yet.
func (p *PoolService) Ready(ctx context.Context) error {
	p.Start(context.WithoutCancel(ctx))

	select {
	case <-p.ready:
		return p.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PoolService) initialize(ctx context.Context) error {
	records, err := p.store.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNoValidCredentials, err)
	}
	if len(records) == 0 {
		return domain.ErrNoValidCredentials
	}

	accounts := make([]*domain.Account, 0, len(records))
	for _, record := range records {
		record.ProjectID = strings.TrimSpace(record.ProjectID)
		accounts = append(accounts, domain.NewAccount(record))
	}

	p.mu.Lock()
	p.accounts = accounts
	p.mu.Unlock()

	log.WithField("accounts", len(accounts)).Info("starting parallel warm-up")

	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(account *domain.Account) {
			defer wg.Done()
			_ = p.warmUpAccount(ctx, account)
		}(account)
	}
	wg.Wait()

	log.Info("parallel warm-up completed")
	return nil
}

// warmUpAccount authenticates the account and resolves its project. A
// failure quarantines the account for the general cooldown; it never
// propagates beyond the account.
func (p *PoolService) warmUpAccount(ctx context.Context, account *domain.Account) error {
	if account.Warm() {
		return nil
	}

	logger := log.WithField("account", account.ID)
	logger.Debug("warming up account")

	err := p.ensureAuthenticated(ctx, account)
	if err == nil && account.ProjectID() == "" {
		logger.Info("project id missing, discovering")
		_, err = p.discoverProjectID(ctx, account)
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		account.RecordFailure()
		cooldown := domain.GeneralQuarantine + p.jitter(domain.MaxJitter)
		account.QuarantineUntil(p.clock.Now().Add(cooldown))
		account.SetWarm(false)
		observability.PoolQuarantinesTotal.WithLabelValues("warmup").Inc()
		logger.WithError(err).WithField("cooldown", cooldown.Round(time.Millisecond)).Warn("warm-up failed, account frozen")
		return err
	}

	account.SetWarm(true)
	logger.WithField("project", account.ProjectID()).Info("account warmed up")
	return nil
}

// SelectAccount decays every score, then picks among available accounts:
// the first cold one if any, otherwise the highest Beta(success, failure)
// draw. It returns nil when every account is quarantined.
func (p *PoolService) SelectAccount() *domain.Account {
	accounts := p.snapshot()

	if p.decayFactor < 1 {
		for _, account := range accounts {
			account.Decay(p.decayFactor)
		}
	}

	now := p.clock.Now()
	available := make([]*domain.Account, 0, len(accounts))
	for _, account := range accounts {
		if account.Available(now) {
			available = append(available, account)
		}
	}

	if len(available) == 0 {
		observability.PoolSelectionsTotal.WithLabelValues("none").Inc()
		log.Warn("all credentials are currently frozen")
		return nil
	}

	for _, account := range available {
		if !account.Warm() {
			observability.PoolSelectionsTotal.WithLabelValues("cold").Inc()
			log.WithField("account", account.ID).Debug("selecting cold account to warm up")
			return account
		}
	}

	p.rngMu.Lock()
	defer p.rngMu.Unlock()

	var best *domain.Account
	maxScore := -1.0
	for _, account := range available {
		success, failure := account.Scores()
		score := p.sampler.Beta(success, failure)
		if score > maxScore {
			maxScore = score
			best = account
		}
	}

	observability.PoolSelectionsTotal.WithLabelValues("sampled").Inc()
	success, failure := best.Scores()
	log.WithFields(log.Fields{
		"account":  best.ID,
		"score":    fmt.Sprintf("%.4f", maxScore),
		"success":  fmt.Sprintf("%.2f", success),
		"failures": fmt.Sprintf("%.2f", failure),
	}).Debug("selected account")

	return best
}

// Unfreeze clears the quarantine of the account whose id equals
// identifier. Without an exact match, the first account whose id ends with
// identifier is used.
func (p *PoolService) Unfreeze(identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false
	}

	accounts := p.snapshot()
	account := findAccount(accounts, func(id string) bool { return id == identifier })
	if account == nil {
		account = findAccount(accounts, func(id string) bool { return strings.HasSuffix(id, identifier) })
	}
	if account == nil {
		return false
	}

	account.Unfreeze()
	log.WithField("account", account.ID).Info("account manually unfrozen")
	return true
}

func findAccount(accounts []*domain.Account, match func(id string) bool) *domain.Account {
	for _, account := range accounts {
		if match(string(account.ID)) {
			return account
		}
	}
	return nil
}

func (p *PoolService) Statuses() []domain.AccountStatus {
	now := p.clock.Now()
	accounts := p.snapshot()

	statuses := make([]domain.AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		statuses = append(statuses, account.Status(now))
	}
	return statuses
}

func (p *PoolService) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accounts)
}

// Close releases pooled network resources held by the upstream client.
func (p *PoolService) Close() {
	p.closeOnce.Do(func() {
		if closer, ok := p.upstream.(idleConnCloser); ok {
			closer.CloseIdleConnections()
			log.Debug("pooled upstream connections released")
		}
	})
}

// hasUntried reports whether an available account is missing from attempted.
func (p *PoolService) hasUntried(attempted map[domain.AccountID]struct{}) bool {
	now := p.clock.Now()
	for _, account := range p.snapshot() {
		if _, seen := attempted[account.ID]; !seen && account.Available(now) {
			return true
		}
	}
	return false
}

func (p *PoolService) snapshot() []*domain.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*domain.Account(nil), p.accounts...)
}

func (p *PoolService) jitter(max time.Duration) time.Duration {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return time.Duration(p.sampler.Float64() * float64(max))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

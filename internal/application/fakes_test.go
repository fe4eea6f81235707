package application

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/bnema/gemini-pool/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryStore struct {
	mu      sync.Mutex
	records []domain.CredentialRecord
	saved   map[domain.AccountID]domain.CredentialRecord
	listErr error
	saveErr error
}

func (s *memoryStore) List(context.Context) ([]domain.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.CredentialRecord(nil), s.records...), nil
}

func (s *memoryStore) Save(_ context.Context, record domain.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saved == nil {
		s.saved = map[domain.AccountID]domain.CredentialRecord{}
	}
	s.saved[record.ID] = record
	return nil
}

func (s *memoryStore) Saved(id domain.AccountID) (domain.CredentialRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.saved[id]
	return record, ok
}

type stubRefresher struct {
	mu    sync.Mutex
	calls int
	next  func(domain.TokenPair) (domain.TokenPair, error)
}

func (r *stubRefresher) Refresh(_ context.Context, token domain.TokenPair) (domain.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.next == nil {
		return domain.TokenPair{}, errors.New("refresh not configured")
	}
	return r.next(token)
}

func (r *stubRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type upstreamCall struct {
	Token  string
	Method string
	Body   string
}

type fakeUpstream struct {
	mu        sync.Mutex
	calls     []upstreamCall
	ops       []string
	closed    int
	handle    func(token, method string, body []byte) ([]byte, error)
	operation func(name string) ([]byte, error)
}

func (u *fakeUpstream) Call(_ context.Context, token, method string, body []byte) (io.ReadCloser, error) {
	u.mu.Lock()
	u.calls = append(u.calls, upstreamCall{Token: token, Method: method, Body: string(body)})
	handle := u.handle
	u.mu.Unlock()

	if handle == nil {
		return nil, errors.New("upstream not configured")
	}
	payload, err := handle(token, method, body)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (u *fakeUpstream) GetOperation(_ context.Context, _ string, name string) ([]byte, error) {
	u.mu.Lock()
	u.ops = append(u.ops, name)
	operation := u.operation
	u.mu.Unlock()

	if operation == nil {
		return nil, errors.New("operations not configured")
	}
	return operation(name)
}

func (u *fakeUpstream) CloseIdleConnections() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed++
}

func (u *fakeUpstream) Calls(method string) []upstreamCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []upstreamCall
	for _, call := range u.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func validRecord(id, projectID string) domain.CredentialRecord {
	return domain.CredentialRecord{
		ID:        domain.AccountID(id),
		ProjectID: projectID,
		Token: domain.TokenPair{
			AccessToken:  "tok-" + id,
			RefreshToken: "refresh-" + id,
			TokenType:    domain.DefaultTokenType,
			Expiry:       testNow.Add(time.Hour),
		},
	}
}

type poolFixture struct {
	svc       *PoolService
	store     *memoryStore
	refresher *stubRefresher
	upstream  *fakeUpstream
	clock     *manualClock
	sleeps    []time.Duration
}

func newPoolFixture(records []domain.CredentialRecord, opts PoolOptions) *poolFixture {
	f := &poolFixture{
		store:     &memoryStore{records: records},
		refresher: &stubRefresher{},
		upstream:  &fakeUpstream{},
		clock:     &manualClock{now: testNow},
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if opts.Sleep == nil {
		var mu sync.Mutex
		opts.Sleep = func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			f.sleeps = append(f.sleeps, d)
			return nil
		}
	}
	f.svc = NewPoolService(f.store, f.refresher, f.upstream, f.clock, opts)
	return f
}

func (f *poolFixture) account(id string) *domain.Account {
	for _, account := range f.svc.snapshot() {
		if account.ID == domain.AccountID(id) {
			return account
		}
	}
	return nil
}

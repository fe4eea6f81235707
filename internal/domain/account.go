package domain

import (
	"math"
	"sync"
	"time"
)

type AccountID string

const (
	// MinScore is both the initial value and the floor of the success and
	// failure scores.
	MinScore = 0.1

	// DefaultDecayFactor is applied to every score before each selection.
	DefaultDecayFactor = 0.995
)

// Account is one upstream identity together with its health statistics.
// All state is guarded by the account's own mutex; an account owns its
// token pair exclusively.
type Account struct {
	ID AccountID

	mu               sync.Mutex
	token            TokenPair
	projectID        string
	successScore     float64
	failureScore     float64
	quarantinedUntil time.Time
	warm             bool
}

type AccountStatus struct {
	ID               AccountID `json:"id"`
	ProjectID        string    `json:"projectId,omitempty"`
	Warm             bool      `json:"warm"`
	SuccessScore     float64   `json:"successScore"`
	FailureScore     float64   `json:"failureScore"`
	QuarantinedUntil time.Time `json:"quarantinedUntil,omitempty"`
	TokenExpiry      time.Time `json:"tokenExpiry,omitempty"`
	Available        bool      `json:"available"`
}

func NewAccount(record CredentialRecord) *Account {
	return &Account{
		ID:           record.ID,
		token:        record.Token,
		projectID:    record.ProjectID,
		successScore: MinScore,
		failureScore: MinScore,
	}
}

func (a *Account) Token() TokenPair {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *Account) SetToken(token TokenPair) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

func (a *Account) ProjectID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.projectID
}

func (a *Account) SetProjectID(projectID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.projectID = projectID
}

func (a *Account) Warm() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warm
}

func (a *Account) SetWarm(warm bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warm = warm
}

func (a *Account) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successScore++
}

// RecordFailure increments the failure score and returns its new value.
func (a *Account) RecordFailure() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failureScore++
	return a.failureScore
}

// Decay shrinks both scores by factor, never below MinScore.
func (a *Account) Decay(factor float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successScore = math.Max(MinScore, a.successScore*factor)
	a.failureScore = math.Max(MinScore, a.failureScore*factor)
}

func (a *Account) Scores() (success, failure float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successScore, a.failureScore
}

// SetScores overrides both scores, clamped to MinScore.
func (a *Account) SetScores(success, failure float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successScore = math.Max(MinScore, success)
	a.failureScore = math.Max(MinScore, failure)
}

func (a *Account) Available(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.quarantinedUntil.After(now)
}

func (a *Account) QuarantineUntil(until time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quarantinedUntil = until
}

func (a *Account) QuarantinedUntil() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quarantinedUntil
}

func (a *Account) Unfreeze() {
	a.QuarantineUntil(time.Time{})
}

// Record returns the persisted form of the account.
func (a *Account) Record() CredentialRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return CredentialRecord{ID: a.ID, ProjectID: a.projectID, Token: a.token}
}

func (a *Account) Status(now time.Time) AccountStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AccountStatus{
		ID:               a.ID,
		ProjectID:        a.projectID,
		Warm:             a.warm,
		SuccessScore:     a.successScore,
		FailureScore:     a.failureScore,
		QuarantinedUntil: a.quarantinedUntil,
		TokenExpiry:      a.token.Expiry,
		Available:        !a.quarantinedUntil.After(now),
	}
}

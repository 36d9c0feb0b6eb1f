// Package credential implements the rotating pool of OAuth user
// credentials: loading, lease/refresh, onboarding, project-ID discovery,
// and the health-scored auto-ban supplement.
package credential

import (
	"sync"
	"time"
)

// Account is a single OAuth identity in the pool, per spec §3.
type Account struct {
	// SourceFile is the path this account was loaded from (empty for
	// sources that are not file-backed).
	SourceFile string

	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AccessToken  string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes"`
	TokenURI     string   `json:"token_uri"`
	Expiry       time.Time `json:"expiry"`

	// ProjectID is populated lazily via loadCodeAssist, or taken directly
	// from the account file if present.
	ProjectID string `json:"project_id,omitempty"`

	// Onboarded is set once ensure_onboarded has completed successfully
	// for this account's process lifetime.
	Onboarded bool `json:"-"`

	// Dead marks an account that received invalid_grant on refresh; it is
	// permanently skipped for the rest of the process lifetime.
	Dead bool `json:"-"`

	// health is the runtime-only auto-ban supplement state (spec §9 Open
	// Question resolution, SPEC_FULL §3). Never persisted.
	health healthState

	mu sync.Mutex
}

// healthState tracks the decaying failure weight and auto-ban window for
// one account.
type healthState struct {
	consecutiveFailures int
	failureWeight       float64
	lastFailure         time.Time
	lastSuccess         time.Time
	bannedUntil         time.Time
}

// Lock/Unlock expose the per-account mutex for callers (the manager) that
// need to mutate onboarding or health state without holding the whole
// pool lock across unrelated accounts. The pool's own critical section
// still wraps lease()'s cursor-advance + refresh + persist, per spec §4.2;
// this finer lock serialises EnsureOnboarded for one account and guards
// the health bookkeeping (recordFailure, recordSuccess, HealthScore).
func (a *Account) Lock()   { a.mu.Lock() }
func (a *Account) Unlock() { a.mu.Unlock() }

// NeedsRefresh reports whether the account's token is expired or will
// expire within the refresh-ahead window.
func (a *Account) NeedsRefresh(now time.Time, ahead time.Duration) bool {
	if a.Expiry.IsZero() {
		return true
	}
	return !now.Add(ahead).Before(a.Expiry)
}

// IsBanned reports whether the account is currently inside its auto-ban
// window.
func (a *Account) IsBanned(now time.Time) bool {
	return a.health.bannedUntil.After(now)
}

// CanRecover reports whether a previously auto-banned account's ban window
// has elapsed.
func (a *Account) CanRecover(now time.Time) bool {
	return !a.health.bannedUntil.IsZero() && !a.health.bannedUntil.After(now)
}

package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gemini-oauth-proxy/internal/constants"
	"gemini-oauth-proxy/internal/oauth"
	log "github.com/sirupsen/logrus"
)

// ErrNoAccounts is returned by Lease when the pool is empty or every
// account is dead/banned.
var ErrNoAccounts = errors.New("no accounts configured")

// Outcome describes how an upstream call using a leased account turned
// out, for Release's bookkeeping.
type Outcome struct {
	Success    bool
	HTTPStatus int // meaningful when !Success
}

// Manager is the credential pool: one long-lived value carried through
// the request path, per spec §9 (no module-level mutable singleton).
//
// The pool mutex protects the cursor and the token refresh; onboarding
// state and health state are guarded by each Account's own mutex instead
// (see Account.Lock). Refresh and the on-disk rewrite happen inside the
// pool mutex — this is a
// deliberate departure from a design that would refresh via a detached
// background goroutine: spec §4.2 requires refresh to be atomic with the
// lease that triggered it, so that two concurrent leases of the same
// expired account can never race two outgoing refreshes (S7).
type Manager struct {
	mu       sync.Mutex
	accounts []*Account
	cursor   int

	source  Source
	oauth   *oauth.Manager
	autoBan bool
	now     func() time.Time
}

// NewManager constructs a Manager. Call Load before the first Lease.
func NewManager(source Source, oauthMgr *oauth.Manager, autoBanEnabled bool) *Manager {
	return &Manager{
		source:  source,
		oauth:   oauthMgr,
		autoBan: autoBanEnabled,
		now:     time.Now,
	}
}

// Load populates the pool from the configured source. Safe to call again
// later (e.g. at startup before serving) but Add is the hot-reload path.
func (m *Manager) Load(ctx context.Context) error {
	accounts, err := m.source.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.accounts = accounts
	m.cursor = 0
	m.mu.Unlock()
	log.WithField("count", len(accounts)).Info("credential pool loaded")
	return nil
}

// Count returns the current pool size.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// Add enrolls a new account (fsnotify hot reload) without disturbing
// in-flight leases.
func (m *Manager) Add(ctx context.Context, path string) error {
	acc, err := m.source.Add(ctx, path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.SourceFile == acc.SourceFile {
			return nil // already enrolled
		}
	}
	m.accounts = append(m.accounts, acc)
	log.WithField("file", path).Info("credential: account enrolled")
	return nil
}

// Lease advances the rotation cursor, refreshes the chosen account's token
// if it is at or near expiry, persists the refresh, and returns the
// account — all inside one critical section, per spec §4.2/§5.
func (m *Manager) Lease(ctx context.Context) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.accounts) == 0 {
		return nil, ErrNoAccounts
	}

	now := m.now()
	n := len(m.accounts)
	start := m.cursor

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		acc := m.accounts[idx]

		if acc.Dead {
			continue
		}
		if acc.IsBanned(now) {
			continue
		}

		m.cursor = (idx + 1) % n

		if acc.NeedsRefresh(now, constants.RefreshAheadWindow) {
			if err := m.refreshLocked(ctx, acc); err != nil {
				var nonRetryable *oauth.NonRetryableError
				if errors.As(err, &nonRetryable) {
					acc.Dead = true
					log.WithField("file", acc.SourceFile).Warn("credential: account marked dead (invalid_grant)")
					continue
				}
				log.WithError(err).WithField("file", acc.SourceFile).Warn("credential: token refresh failed, using last known token")
			}
		}

		return acc, nil
	}

	return nil, ErrNoAccounts
}

func (m *Manager) refreshLocked(ctx context.Context, acc *Account) error {
	refreshCtx, cancel := context.WithTimeout(ctx, constants.TokenRefreshTimeout)
	defer cancel()

	creds := &oauth.Credentials{
		ClientID:     acc.ClientID,
		ClientSecret: acc.ClientSecret,
		AccessToken:  acc.AccessToken,
		RefreshToken: acc.RefreshToken,
		TokenURI:     acc.TokenURI,
		ProjectID:    acc.ProjectID,
		ExpiresAt:    acc.Expiry,
		Scopes:       acc.Scopes,
	}

	if err := m.oauth.RefreshToken(refreshCtx, creds); err != nil {
		return err
	}

	acc.AccessToken = creds.AccessToken
	acc.RefreshToken = creds.RefreshToken
	acc.Expiry = creds.ExpiresAt

	if err := m.source.Persist(ctx, acc); err != nil {
		log.WithError(err).WithField("file", acc.SourceFile).Error("credential: failed to persist refreshed token")
	}
	return nil
}

// Release reports the outcome of an upstream call that used acc. It feeds
// the health-scored auto-ban supplement; per spec §4.2 the base contract
// is a no-op (the account immediately becomes eligible for the next
// lease), which this preserves — recordFailure/recordSuccess never
// removes an account from rotation on their own, only sets a ban window
// an account can fall outside of.
func (m *Manager) Release(acc *Account, outcome Outcome) {
	if acc == nil {
		return
	}
	now := m.now()
	if outcome.Success {
		acc.recordSuccess(now)
		return
	}
	acc.recordFailure(now, outcome.HTTPStatus, m.autoBan)
}

// EnsureOnboarded performs the one-time-per-account onboarding flow of
// spec §4.2: loadCodeAssist, then (if no tier is reported) poll onboardUser
// for up to 120s at 2s intervals. Idempotent — a second call for an
// already-onboarded account is a no-op and issues no further requests.
func (m *Manager) EnsureOnboarded(ctx context.Context, acc *Account) error {
	// Held across the network calls below (not just the field reads): this
	// serializes concurrent onboarding attempts for this one account so at
	// most one onboardUser call is ever issued, without blocking leases of
	// other accounts (each has its own mutex).
	acc.Lock()
	defer acc.Unlock()

	if acc.Onboarded && acc.ProjectID != "" {
		return nil
	}

	resp, err := m.oauth.LoadCodeAssist(ctx, acc.AccessToken, nil)
	if err != nil {
		return fmt.Errorf("credential: loadCodeAssist: %w", err)
	}

	projectID := acc.ProjectID
	if projectID == "" {
		projectID = resp.CloudaicompanionProject
	}

	if resp.CurrentTier == nil {
		onboardCtx, cancel := context.WithTimeout(ctx, constants.OnboardPollTimeout)
		defer cancel()
		discovered, err := m.oauth.OnboardUser(onboardCtx, acc.AccessToken, "", nil, constants.OnboardPollInterval)
		if err != nil {
			return fmt.Errorf("credential: onboardUser: %w", err)
		}
		projectID = discovered
	}

	if projectID == "" {
		return fmt.Errorf("credential: onboarding completed without a project id")
	}

	acc.ProjectID = projectID
	acc.Onboarded = true
	if err := m.source.Persist(ctx, acc); err != nil {
		log.WithError(err).WithField("file", acc.SourceFile).Error("credential: failed to persist onboarding state")
	}
	return nil
}

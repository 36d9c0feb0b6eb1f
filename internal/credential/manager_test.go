package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gemini-oauth-proxy/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is an in-memory Source for manager tests.
type fakeSource struct {
	mu        sync.Mutex
	accounts  []*Account
	persisted int
}

func (f *fakeSource) Load(ctx context.Context) ([]*Account, error) {
	return f.accounts, nil
}

func (f *fakeSource) Persist(ctx context.Context, acc *Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted++
	return nil
}

func (f *fakeSource) Add(ctx context.Context, path string) (*Account, error) {
	acc := &Account{SourceFile: path}
	return acc, nil
}

func newTestAccount(file string, expiry time.Time) *Account {
	return &Account{
		SourceFile:   file,
		ClientID:     "client",
		ClientSecret: "secret",
		AccessToken:  "old-token",
		RefreshToken: "refresh",
		Expiry:       expiry,
	}
}

func TestManager_LeaseRotatesRoundRobin(t *testing.T) {
	src := &fakeSource{accounts: []*Account{
		newTestAccount("a", time.Now().Add(time.Hour)),
		newTestAccount("b", time.Now().Add(time.Hour)),
	}}
	mgr := NewManager(src, oauth.NewManager("c", "s"), false)
	require.NoError(t, mgr.Load(context.Background()))

	first, err := mgr.Lease(context.Background())
	require.NoError(t, err)
	second, err := mgr.Lease(context.Background())
	require.NoError(t, err)
	third, err := mgr.Lease(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.SourceFile, second.SourceFile)
	assert.Equal(t, first.SourceFile, third.SourceFile)
}

func TestManager_LeaseEmptyPoolErrors(t *testing.T) {
	mgr := NewManager(&fakeSource{}, oauth.NewManager("c", "s"), false)
	require.NoError(t, mgr.Load(context.Background()))

	_, err := mgr.Lease(context.Background())
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestManager_LeaseSkipsDeadAndBannedAccounts(t *testing.T) {
	dead := newTestAccount("dead", time.Now().Add(time.Hour))
	dead.Dead = true
	banned := newTestAccount("banned", time.Now().Add(time.Hour))
	banned.health.bannedUntil = time.Now().Add(time.Hour)
	healthy := newTestAccount("healthy", time.Now().Add(time.Hour))

	src := &fakeSource{accounts: []*Account{dead, banned, healthy}}
	mgr := NewManager(src, oauth.NewManager("c", "s"), false)
	require.NoError(t, mgr.Load(context.Background()))

	acc, err := mgr.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", acc.SourceFile)
}

func TestManager_LeaseRefreshesExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-token", "expires_in": 3600, "token_type": "Bearer",
		})
	}))
	defer srv.Close()

	src := &fakeSource{accounts: []*Account{newTestAccount("a", time.Now().Add(-time.Hour))}}
	oauthMgr := oauth.NewManager("c", "s", oauth.WithTokenURL(srv.URL))
	mgr := NewManager(src, oauthMgr, false)
	require.NoError(t, mgr.Load(context.Background()))

	acc, err := mgr.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", acc.AccessToken)
	assert.Equal(t, 1, src.persisted)
}

func TestManager_LeaseMarksAccountDeadOnInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	src := &fakeSource{accounts: []*Account{
		newTestAccount("bad", time.Now().Add(-time.Hour)),
		newTestAccount("good", time.Now().Add(time.Hour)),
	}}
	oauthMgr := oauth.NewManager("c", "s", oauth.WithTokenURL(srv.URL))
	mgr := NewManager(src, oauthMgr, false)
	require.NoError(t, mgr.Load(context.Background()))

	acc, err := mgr.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", acc.SourceFile)
	assert.True(t, src.accounts[0].Dead)
}

func TestManager_ReleaseRecordsOutcome(t *testing.T) {
	acc := newTestAccount("a", time.Now().Add(time.Hour))
	mgr := NewManager(&fakeSource{}, oauth.NewManager("c", "s"), true)

	for i := 0; i < 10; i++ {
		mgr.Release(acc, Outcome{Success: false, HTTPStatus: http.StatusUnauthorized})
	}
	assert.True(t, acc.IsBanned(time.Now()))

	mgr.Release(acc, Outcome{Success: true})
	assert.Equal(t, 0, acc.health.consecutiveFailures)
}

func TestManager_AddDoesNotDuplicate(t *testing.T) {
	src := &fakeSource{}
	mgr := NewManager(src, oauth.NewManager("c", "s"), false)
	require.NoError(t, mgr.Load(context.Background()))

	require.NoError(t, mgr.Add(context.Background(), "path/a.json"))
	require.NoError(t, mgr.Add(context.Background(), "path/a.json"))
	assert.Equal(t, 1, mgr.Count())
}

func TestManager_EnsureOnboardedIdempotent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"cloudaicompanionProject": "proj-1",
			"currentTier":             map[string]any{"id": "free"},
		})
	}))
	defer srv.Close()

	acc := newTestAccount("a", time.Now().Add(time.Hour))
	src := &fakeSource{}
	oauthMgr := oauth.NewManager("c", "s", oauth.WithCodeAssistURL(srv.URL))
	mgr := NewManager(src, oauthMgr, false)

	require.NoError(t, mgr.EnsureOnboarded(context.Background(), acc))
	assert.Equal(t, "proj-1", acc.ProjectID)
	assert.True(t, acc.Onboarded)

	require.NoError(t, mgr.EnsureOnboarded(context.Background(), acc))
	assert.Equal(t, 1, calls, "second call should be a no-op")
}

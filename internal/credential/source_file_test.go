package credential

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAccountFile(t *testing.T, dir, name string, f accountFile) string {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFileSource_LoadSkipsUnparseable(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "good.json", accountFile{RefreshToken: "rt", ClientID: "c"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "missing-refresh.json"), []byte(`{"client_id":"c"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))

	src := NewFileSource(dir)
	accounts, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "rt", accounts[0].RefreshToken)
}

func TestFileSource_LoadMissingDirReturnsEmpty(t *testing.T) {
	src := NewFileSource("/nonexistent/path/for/test")
	accounts, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestFileSource_LoadDefaultsScopesAndTokenURI(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "a.json", accountFile{RefreshToken: "rt"})

	src := NewFileSource(dir)
	accounts, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, defaultScopes, accounts[0].Scopes)
	assert.Equal(t, defaultTokenURI, accounts[0].TokenURI)
}

func TestFileSource_PersistRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := writeAccountFile(t, dir, "a.json", accountFile{RefreshToken: "rt", ClientID: "c"})

	src := NewFileSource(dir)
	acc := &Account{
		SourceFile:   path,
		ClientID:     "c",
		RefreshToken: "new-rt",
		AccessToken:  "new-at",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, src.Persist(context.Background(), acc))

	reloaded, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.Equal(t, "new-rt", reloaded[0].RefreshToken)
	assert.Equal(t, "new-at", reloaded[0].AccessToken)
	assert.False(t, reloaded[0].Expiry.IsZero())
}

func TestFileSource_PersistRequiresSourceFile(t *testing.T) {
	src := NewFileSource(t.TempDir())
	err := src.Persist(context.Background(), &Account{})
	assert.Error(t, err)
}

func TestFileSource_Add(t *testing.T) {
	dir := t.TempDir()
	path := writeAccountFile(t, dir, "new.json", accountFile{RefreshToken: "rt2"})

	src := NewFileSource(dir)
	acc, err := src.Add(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "rt2", acc.RefreshToken)
}

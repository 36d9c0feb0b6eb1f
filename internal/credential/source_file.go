package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// FileSource loads accounts from *.json files in a directory, matching
// spec §4.2/§6's on-disk format, and persists refreshed tokens back with
// an atomic temp-write-then-rename.
type FileSource struct {
	Dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// accountFile mirrors the on-disk JSON shape of spec §6.
type accountFile struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes"`
	TokenURI     string   `json:"token_uri"`
	Expiry       string   `json:"expiry"`
	ProjectID    string   `json:"project_id,omitempty"`
}

var defaultScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"openid",
}

const defaultTokenURI = "https://oauth2.googleapis.com/token"

// Load scans Dir for *.json files, skipping and logging any that fail to
// parse. If the directory does not exist or holds nothing valid, Load
// returns an empty, non-error slice — the pool then has zero accounts and
// every lease fails with "no accounts configured", per spec §4.2.
func (s *FileSource) Load(ctx context.Context) ([]*Account, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("credential: read account dir %s: %w", s.Dir, err)
	}

	var out []*Account
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.Dir, entry.Name())
		acc, err := parseAccountFile(path)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("credential: skipping unparseable account file")
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func parseAccountFile(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f accountFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.RefreshToken == "" {
		return nil, fmt.Errorf("missing refresh_token")
	}

	scopes := f.Scopes
	if len(scopes) == 0 {
		scopes = append([]string(nil), defaultScopes...)
	}
	tokenURI := f.TokenURI
	if tokenURI == "" {
		tokenURI = defaultTokenURI
	}
	var expiry time.Time
	if f.Expiry != "" {
		expiry, _ = time.Parse(time.RFC3339, f.Expiry)
	}

	return &Account{
		SourceFile:   path,
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		AccessToken:  f.Token,
		RefreshToken: f.RefreshToken,
		Scopes:       scopes,
		TokenURI:     tokenURI,
		Expiry:       expiry,
		ProjectID:    f.ProjectID,
	}, nil
}

// Persist writes acc's current fields back to its source file via a
// sibling temp path + rename, per spec §4.2/§5.
func (s *FileSource) Persist(ctx context.Context, acc *Account) error {
	if acc.SourceFile == "" {
		return fmt.Errorf("credential: account has no source file to persist to")
	}

	f := accountFile{
		ClientID:     acc.ClientID,
		ClientSecret: acc.ClientSecret,
		Token:        acc.AccessToken,
		RefreshToken: acc.RefreshToken,
		Scopes:       acc.Scopes,
		TokenURI:     acc.TokenURI,
		ProjectID:    acc.ProjectID,
	}
	if !acc.Expiry.IsZero() {
		f.Expiry = acc.Expiry.Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: marshal account: %w", err)
	}

	tmp := acc.SourceFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credential: write temp account file: %w", err)
	}
	if err := os.Rename(tmp, acc.SourceFile); err != nil {
		return fmt.Errorf("credential: rename account file: %w", err)
	}
	return nil
}

// Add loads a single new account file discovered after startup (fsnotify
// hot reload, SPEC_FULL §4.2).
func (s *FileSource) Add(ctx context.Context, path string) (*Account, error) {
	return parseAccountFile(path)
}

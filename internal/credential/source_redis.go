package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisSource is an optional Source that stores each account as a JSON
// string under its own Redis key, with a Redis set indexing the keys, for
// operators who externalize account state instead of using the local
// filesystem (SPEC_FULL §4.2, off by default — enabled via REDIS_ADDR).
type RedisSource struct {
	client    *redis.Client
	indexKey  string // set of account ids
	keyPrefix string
}

// NewRedisSource creates a RedisSource against addr.
func NewRedisSource(addr string) *RedisSource {
	return &RedisSource{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		indexKey:  "gemini-oauth-proxy:accounts",
		keyPrefix: "gemini-oauth-proxy:account:",
	}
}

func (s *RedisSource) key(id string) string { return s.keyPrefix + id }

// Load reads every account id from the index set and fetches its record.
func (s *RedisSource) Load(ctx context.Context) ([]*Account, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("credential: redis smembers: %w", err)
	}

	var out []*Account
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.key(id)).Bytes()
		if err != nil {
			log.WithError(err).WithField("key", s.key(id)).Warn("credential: skipping unreadable redis account")
			continue
		}
		var f accountFile
		if err := json.Unmarshal(data, &f); err != nil {
			log.WithError(err).WithField("key", s.key(id)).Warn("credential: skipping unparseable redis account")
			continue
		}
		var expiry time.Time
		if f.Expiry != "" {
			expiry, _ = time.Parse(time.RFC3339, f.Expiry)
		}
		out = append(out, &Account{
			SourceFile:   s.key(id),
			ClientID:     f.ClientID,
			ClientSecret: f.ClientSecret,
			AccessToken:  f.Token,
			RefreshToken: f.RefreshToken,
			Scopes:       f.Scopes,
			TokenURI:     f.TokenURI,
			Expiry:       expiry,
			ProjectID:    f.ProjectID,
		})
	}
	return out, nil
}

// Persist writes acc back to its Redis key and ensures it's indexed.
func (s *RedisSource) Persist(ctx context.Context, acc *Account) error {
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
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("credential: marshal account: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, acc.SourceFile, data, 0)
	pipe.SAdd(ctx, s.indexKey, acc.SourceFile)
	_, err = pipe.Exec(ctx)
	return err
}

// Add fetches the account stored under id's key and returns it. Accounts
// are enrolled by writing directly to Redis, not by a filesystem watch.
func (s *RedisSource) Add(ctx context.Context, id string) (*Account, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var f accountFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &Account{SourceFile: s.key(id), ClientID: f.ClientID, ClientSecret: f.ClientSecret,
		AccessToken: f.Token, RefreshToken: f.RefreshToken, Scopes: f.Scopes, TokenURI: f.TokenURI,
		ProjectID: f.ProjectID}, nil
}

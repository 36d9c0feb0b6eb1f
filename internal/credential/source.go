package credential

import "context"

// Source loads and persists Account records for the pool. FileSource is
// the default (spec §4.2's accounts/*.json scan); RedisSource is an
// optional alternative for operators who externalize account state
// (SPEC_FULL §4.2).
type Source interface {
	// Load scans the backing store and returns every account it holds.
	// Unparseable entries are skipped and logged, never fatal.
	Load(ctx context.Context) ([]*Account, error)

	// Persist atomically writes back an account's mutated fields (access
	// token, refresh token, expiry, project id); the onboarded flag is not
	// stored.
	Persist(ctx context.Context, acc *Account) error

	// Add enrolls a new account found after startup (hot reload) and
	// returns it loaded.
	Add(ctx context.Context, path string) (*Account, error)
}

package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchDir_EnrollsNewAccountFile(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{}
	mgr := NewManager(src, nil, false)
	require.NoError(t, mgr.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop, err := mgr.WatchDir(ctx, dir)
	require.NoError(t, err)
	defer stop()

	path := filepath.Join(dir, "new.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"refresh_token":"rt"}`), 0o600))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.Count() == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 1, mgr.Count())
}

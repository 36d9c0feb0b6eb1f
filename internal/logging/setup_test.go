package logging

import (
	"os"
	"path/filepath"
	"testing"

	"gemini-oauth-proxy/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_NilConfigDefaultsToJSONInfo(t *testing.T) {
	require.NoError(t, Setup(nil))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	_, isJSON := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, isJSON)
}

func TestSetup_DebugUsesTextFormatter(t *testing.T) {
	cfg := &config.Config{Logging: config.Logging{Level: "debug"}, Security: config.Security{Debug: true}}
	require.NoError(t, Setup(cfg))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	_, isText := log.StandardLogger().Formatter.(*log.TextFormatter)
	assert.True(t, isText)
}

func TestSetup_WritesToLogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "proxy.log")
	cfg := &config.Config{Logging: config.Logging{Level: "info"}, Security: config.Security{LogFile: path}}
	require.NoError(t, Setup(cfg))

	log.Info("hello from test")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")

	// Reset to stdout-only so later tests in this package aren't affected.
	require.NoError(t, Setup(nil))
}

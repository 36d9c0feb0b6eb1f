// Package constants collects the timeouts, buffer sizes, and retry tunables
// shared across the credential pool, translator, and upstream pipeline.
package constants

import "time"

// Upstream HTTP timeouts, per spec §5.
const (
	DialTimeout           = 30 * time.Second
	UnaryReadTimeout      = 300 * time.Second
	StreamReadTimeout     = 600 * time.Second
	OnboardPollTimeout    = 120 * time.Second
	OnboardPollInterval   = 2 * time.Second
	TokenRefreshTimeout   = 30 * time.Second
	TLSHandshakeTimeout   = 10 * time.Second
	ResponseHeaderTimeout = 60 * time.Second
	ExpectContinueTimeout = 2 * time.Second
)

// Connection pool sizing for the upstream HTTP client.
const (
	MaxIdleConns        = 256
	MaxIdleConnsPerHost = 64
	IdleConnTimeout     = 90 * time.Second
)

// SSE bridge sizing, per spec §4.4/§5.
const (
	SSEChannelCapacity      = 64
	SSEScannerInitialBuffer = 64 * 1024
	SSEScannerMaxBuffer     = 4 * 1024 * 1024
)

// Fail-over bounds, per spec §4.4.
const (
	MaxAttemptsPerPoolSize = 3
)

// Model generation defaults, per spec §4.1/§4.3.
const (
	DefaultTopK     = 64
	MaxTopK         = 100
	MaxOutputTokens = 65535
)

// RefreshAheadWindow is how far before expiry a lease proactively refreshes,
// per spec §4.2 ("within 60 seconds of expiry").
const RefreshAheadWindow = 60 * time.Second

package credential

import (
	"math"
	"net/http"
	"time"

	"gemini-oauth-proxy/internal/metrics"
)

// Auto-ban tuning, per SPEC_FULL §3/§4.2. Conservative and process-local;
// these thresholds are fixed constants, and only the on/off toggle
// (AUTO_BAN_ENABLED) is configurable.
const (
	failureHalfLife        = 10 * time.Minute
	consecutiveFailBanAfter = 10
)

// statusSeverity weights an upstream HTTP status by how much it should
// count against an account's health score.
func statusSeverity(status int) float64 {
	switch status {
	case http.StatusTooManyRequests:
		return 2.5
	case http.StatusForbidden:
		return 1.8
	case http.StatusUnauthorized:
		return 2.2
	default:
		if status >= 500 {
			return 1.2
		}
		return 1.0
	}
}

// banDuration returns how long an account is auto-banned for after a
// failure at the given status code.
func banDuration(status int) time.Duration {
	switch status {
	case http.StatusTooManyRequests:
		return 30 * time.Minute
	case http.StatusForbidden:
		return time.Hour
	case http.StatusUnauthorized:
		return 2 * time.Hour
	default:
		if status >= 500 {
			return 15 * time.Minute
		}
		return 15 * time.Minute
	}
}

// decay applies exponential half-life decay to the failure weight based on
// elapsed time since the last recorded failure.
func (h *healthState) decay(now time.Time) {
	if h.lastFailure.IsZero() || h.failureWeight == 0 {
		return
	}
	elapsed := now.Sub(h.lastFailure)
	if elapsed <= 0 {
		return
	}
	halfLives := elapsed.Seconds() / failureHalfLife.Seconds()
	h.failureWeight *= math.Pow(0.5, halfLives)
}

// recordFailure updates the decaying failure weight and, if thresholds are
// crossed, sets a ban window. enabled gates the whole supplement off when
// AUTO_BAN_ENABLED=false.
func (a *Account) recordFailure(now time.Time, status int, enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.health.decay(now)
	a.health.failureWeight += statusSeverity(status)
	a.health.consecutiveFailures++
	a.health.lastFailure = now

	if !enabled {
		return
	}

	if a.health.consecutiveFailures >= consecutiveFailBanAfter {
		a.health.bannedUntil = now.Add(time.Hour)
		metrics.AutoBans.Inc()
		return
	}

	if d := banDuration(status); a.health.failureWeight >= 3.0 {
		until := now.Add(d)
		if until.After(a.health.bannedUntil) {
			a.health.bannedUntil = until
			metrics.AutoBans.Inc()
		}
	}
}

// recordSuccess clears the consecutive-failure streak on a successful
// response; the decaying weight is left to decay naturally over time.
func (a *Account) recordSuccess(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.health.consecutiveFailures = 0
	a.health.lastSuccess = now
}

// HealthScore returns a 0..1 score, 1 being perfectly healthy, derived from
// the decayed failure weight.
func (a *Account) HealthScore(now time.Time) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.health.decay(now)
	return 1.0 / (1.0 + a.health.failureWeight)
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLeasesAndFailOversAreRegisteredCounters(t *testing.T) {
	before := testutil.ToFloat64(Leases)
	Leases.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Leases))

	beforeFailOvers := testutil.ToFloat64(FailOvers)
	FailOvers.Inc()
	assert.Equal(t, beforeFailOvers+1, testutil.ToFloat64(FailOvers))
}

func TestUpstreamLatencyObserve(t *testing.T) {
	UpstreamLatency.WithLabelValues("generateContent", "200").Observe(0.5)
	count := testutil.CollectAndCount(UpstreamLatency)
	assert.Greater(t, count, 0)
}

func TestAutoBansCounter(t *testing.T) {
	before := testutil.ToFloat64(AutoBans)
	AutoBans.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AutoBans))
}

package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gistchat/gistchat/internal/testutil"
)

func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, testutil.TestLogger(t))
	su.RegisterMetric(DiscoveryPolls)
	su.RegisterMetric(RemoteErrors)
	su.Run()
	defer su.Stop()

	su.Incr(DiscoveryPolls)
	su.Incr(DiscoveryPolls)
	su.Incr(RemoteErrors)
	su.Decr(RemoteErrors)

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))

		var data map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
			return false
		}
		return data[DiscoveryPolls] == float64(2) && data[RemoteErrors] == float64(0)
	}, time.Second, 10*time.Millisecond, "expected counters to reach the expvar handler")
}

func TestUnregisteredMetricIsDropped(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, testutil.TestLogger(t))
	su.Run()
	defer su.Stop()

	// Must not panic or wedge the updater.
	su.Incr("NoSuchMetric")

	su.RegisterMetric(MessagePolls)
	su.Incr(MessagePolls)

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))

		var data map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
			return false
		}
		return data[MessagePolls] == float64(1)
	}, time.Second, 10*time.Millisecond)
}

func TestIncrAfterStop(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, testutil.TestLogger(t))
	su.RegisterMetric(RemoteErrors)
	su.Run()
	su.Stop()

	// The synchronizer's best-effort push goroutines can outlive
	// shutdown and still report errors; that must never panic.
	assert.NotPanics(t, func() {
		su.Incr(RemoteErrors)
		su.Decr(RemoteErrors)
	})
	assert.NotPanics(t, su.Stop, "stopping twice is safe")
}

func TestUptimeExposed(t *testing.T) {
	mux := http.NewServeMux()
	NewStatsUpdater(mux, testutil.TestLogger(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))

	var data map[string]any
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Contains(t, data, "Uptime")
}

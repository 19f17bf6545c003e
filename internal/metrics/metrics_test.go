package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/airwave/internal/streaming"
	"github.com/stwalsh4118/airwave/internal/token"
)

var (
	_ streaming.Recorder  = (*Metrics)(nil)
	_ token.ProbeObserver = (*Metrics)(nil).RecordProbe
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_ExposesRecordedValues(t *testing.T) {
	m := New()

	m.RecordState("jazz", "connecting")
	m.RecordState("jazz", "connecting")
	m.RecordRetry("jazz", "network")
	m.RecordError("jazz", "decode")
	m.RecordRefresh("jazz", "swapped")
	m.RecordProbe(token.ProbeResolved, 120*time.Millisecond)

	body := scrape(t, m.Handler(nil))

	assert.Contains(t, body, `airwave_session_state_transitions_total{state="connecting",station="jazz"} 2`)
	assert.Contains(t, body, `airwave_session_retries_total{kind="network",station="jazz"} 1`)
	assert.Contains(t, body, `airwave_session_errors_total{kind="decode",station="jazz"} 1`)
	assert.Contains(t, body, `airwave_token_refreshes_total{outcome="swapped",station="jazz"} 1`)
	assert.Contains(t, body, `airwave_live_url_probes_total{outcome="resolved"} 1`)
	assert.Contains(t, body, `airwave_live_url_probe_duration_seconds_count 1`)
}

func TestMetrics_HandlerRefreshesGauges(t *testing.T) {
	m := New()

	calls := 0
	h := m.Handler(func() {
		calls++
		m.SetActiveControllers(3)
	})

	body := scrape(t, h)
	assert.Equal(t, 1, calls)
	assert.Contains(t, body, "airwave_active_controllers 3")
}

func TestMetrics_PrivateRegistry(t *testing.T) {
	a, b := New(), New()
	a.RecordError("x", "network")

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.NotEqual(t, "airwave_session_errors_total", f.GetName())
	}
}

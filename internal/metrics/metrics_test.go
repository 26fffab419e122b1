package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTransition(t *testing.T) {
	m := New("test")
	m.ObserveTransition("bidderDeposit", 0.01, nil)
	m.ObserveTransition("bidderDeposit", 0.01, errors.New("reverted"))
	m.ObserveTransition("bidderDeposit", 0.01, nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Transitions.WithLabelValues("bidderDeposit", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transitions.WithLabelValues("bidderDeposit", "reverted")))

	var nilMetrics *Metrics
	nilMetrics.ObserveTransition("noop", 0, nil)
}

func TestMux_ServesPrometheusAndExpvar(t *testing.T) {
	m := New("test")
	m.AuctionsCreated.Inc()
	srv := httptest.NewServer(NewMux(m.Registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_registry_auctions_created_total 1")

	vars, err := http.Get(srv.URL + "/debug/vars")
	require.NoError(t, err)
	defer vars.Body.Close()
	assert.Equal(t, http.StatusOK, vars.StatusCode)
}

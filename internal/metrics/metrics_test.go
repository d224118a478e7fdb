package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ExchangeOutcome("resolved")
	m.ConnectAttempt("tcp://x:1", true)
	m.AddressUsable("x")
	m.AddressLost("x")
	m.GroupReady()
	m.GroupNotReady()
	m.LinkOpened()
	m.LinkClosed()
	require.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ExchangeOutcome("resolved")
	m.ExchangeOutcome("resolved")
	m.ExchangeOutcome("timed_out")
	m.ConnectAttempt("mem://a", false)
	m.ConnectAttempt("mem://a", true)
	m.GroupReady()
	m.LinkOpened()

	require.Equal(t, 2.0, testutil.ToFloat64(m.exchanges.WithLabelValues("resolved")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.exchanges.WithLabelValues("timed_out")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempt.WithLabelValues("mem://a", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.groupEdges.WithLabelValues("ready")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.links))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.AddressUsable("mem://server")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "peerlink_usable_address_total"))
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.OrdersFilled.Inc()
	prom.Metrics.OrdersReverted.Inc()
	prom.Metrics.Reconnects.Inc()
	prom.Metrics.TickErrors.Inc()
	prom.Metrics.TickErrors.Inc()

	assertCounter(t, prom.ordersPlaced, 1)
	assertCounter(t, prom.ordersFailed, 1)
	assertCounter(t, prom.ordersFilled, 1)
	assertCounter(t, prom.ordersReverted, 1)
	assertCounter(t, prom.reconnects, 1)
	assertCounter(t, prom.tickErrors, 2)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Gain.Set(0.031)
	prom.Metrics.CrossRate.Set(0.0544)
	if got := testutil.ToFloat64(prom.gain); got != 0.031 {
		t.Fatalf("expected gain 0.031, got %v", got)
	}
	if got := testutil.ToFloat64(prom.crossRate); got != 0.0544 {
		t.Fatalf("expected cross 0.0544, got %v", got)
	}
}

func TestPrometheusHandlerExposesMetrics(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "kraken_hop_bot_orders_placed_total 1") {
		t.Fatalf("expected orders_placed_total in output, got:\n%s", body)
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	m.OrdersPlaced.Inc()
	m.Gain.Set(1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

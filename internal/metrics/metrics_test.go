package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewWithRegistererReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewWithRegisterer(reg)
	second := NewWithRegisterer(reg)

	first.OrderCreated()
	second.OrderCreated()

	if got := counterValue(t, first.ordersCreated); got != 2 {
		t.Fatalf("expected shared counter at 2, got %v", got)
	}
}

func TestStockMovedSplitsDirections(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.StockMoved(map[int64]int{1: -3, 2: 2, 3: 0})

	if got := counterValue(t, m.stockMovements.WithLabelValues("consumed")); got != 3 {
		t.Fatalf("expected 3 consumed, got %v", got)
	}
	if got := counterValue(t, m.stockMovements.WithLabelValues("refunded")); got != 2 {
		t.Fatalf("expected 2 refunded, got %v", got)
	}
}

func TestObserveHTTPAndPayments(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveHTTP("GET", "/orders/{id}", 200, 15*time.Millisecond)
	m.ObserveHTTP("GET", "", 404, time.Millisecond)
	m.PaymentRecorded(150.5)

	if got := counterValue(t, m.httpRequests.WithLabelValues("GET", "/orders/{id}", "200")); got != 1 {
		t.Fatalf("expected one request, got %v", got)
	}
	if got := counterValue(t, m.httpRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("expected unmatched route label, got %v", got)
	}
	if got := counterValue(t, m.paymentsAmount); got != 150.5 {
		t.Fatalf("expected amount 150.5, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.OrderCreated()
	m.PaymentRecorded(1)
	m.StockMoved(map[int64]int{1: -1})
	m.ObserveHTTP("GET", "/", 200, 0)
	m.SetLowStockParts(2)
}

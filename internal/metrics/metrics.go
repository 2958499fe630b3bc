// Package metrics holds the Prometheus collectors of the workshop backend.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	ordersCreated    prometheus.Counter
	paymentsRecorded prometheus.Counter
	paymentsAmount   prometheus.Counter
	stockMovements   *prometheus.CounterVec
	lowStockParts    prometheus.Gauge
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors on registerer, reusing any that
// are already registered under the same name.
func NewWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "taller_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "taller_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "taller_orders_created_total",
			Help: "Work orders created",
		}),
		paymentsRecorded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "taller_payments_recorded_total",
			Help: "Payments recorded",
		}),
		paymentsAmount: registerCounter(registerer, prometheus.CounterOpts{
			Name: "taller_payments_amount_total",
			Help: "Sum of recorded payment amounts",
		}),
		stockMovements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "taller_stock_units_total",
			Help: "Part units moved by order reconciliation",
		}, []string{"direction"}),
		lowStockParts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "taller_low_stock_parts",
			Help: "Active parts at or below their minimum stock in the last scan",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *Metrics) PaymentRecorded(amount float64) {
	if m == nil {
		return
	}
	m.paymentsRecorded.Inc()
	if amount > 0 {
		m.paymentsAmount.Add(amount)
	}
}

// StockMoved records reconciliation deltas: negative values are consumed
// units, positive values are refunds.
func (m *Metrics) StockMoved(delta map[int64]int) {
	if m == nil {
		return
	}
	for _, d := range delta {
		switch {
		case d < 0:
			m.stockMovements.WithLabelValues("consumed").Add(float64(-d))
		case d > 0:
			m.stockMovements.WithLabelValues("refunded").Add(float64(d))
		}
	}
}

func (m *Metrics) SetLowStockParts(n int) {
	if m == nil {
		return
	}
	m.lowStockParts.Set(float64(n))
}

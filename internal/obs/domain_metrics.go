package obs

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics groups the POS sale collectors. A nil *DomainMetrics is a
// valid no-op recorder.
type DomainMetrics struct {
	SalesSubmitted  *prometheus.CounterVec
	DueCollections  *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
}

// NewDomainMetrics creates and registers the sale collectors. Registering
// against a registry that already holds them reuses the existing collectors.
func NewDomainMetrics(namespace string, reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &DomainMetrics{
		SalesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_submitted_total",
			Help:      "Count of sale submissions by outcome.",
		}, []string{"result"}),
		DueCollections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "due_collections_total",
			Help:      "Count of due collections by outcome.",
		}, []string{"result"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_ms",
			Help:      "Latency of calls to the sales backend in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation", "result"}),
	}
	mustRegisterCollector(reg, m.SalesSubmitted, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.SalesSubmitted = v
		}
	})
	mustRegisterCollector(reg, m.DueCollections, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.DueCollections = v
		}
	})
	mustRegisterCollector(reg, m.BackendDuration, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			m.BackendDuration = v
		}
	})
	return m
}

// SaleSubmitted counts one submission outcome.
func (m *DomainMetrics) SaleSubmitted(result string) {
	if m == nil {
		return
	}
	m.SalesSubmitted.WithLabelValues(result).Inc()
}

// DueCollected counts one due collection outcome.
func (m *DomainMetrics) DueCollected(result string) {
	if m == nil {
		return
	}
	m.DueCollections.WithLabelValues(result).Inc()
}

// ObserveBackend records the latency of a backend call.
func (m *DomainMetrics) ObserveBackend(operation, result string, millis float64) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(operation, result).Observe(millis)
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}

package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for store operations.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ItemsRead         *prometheus.CounterVec
}

// NewMetrics creates the store metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstore_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkstore_store_operation_duration_seconds",
				Help:    "Duration of store operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ItemsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstore_store_items_read_total",
				Help: "Total number of items returned by reads",
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, statusOf(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) itemsRead(op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ItemsRead.WithLabelValues(op).Add(float64(n))
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIntegrity):
		return "conflict"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEncoding), errors.Is(err, ErrNoChanges):
		return "invalid"
	default:
		return "error"
	}
}

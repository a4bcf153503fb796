package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

// StoreMetrics counts and times store operations.
// Labels: backend, operation, result
type StoreMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewStoreMetrics registers store operation metrics in registerer.
func NewStoreMetrics(registerer prometheus.Registerer, namespace string) (*StoreMetrics, error) {
	if registerer == nil {
		return nil, errors.New("registerer is nil")
	}
	if namespace == "" {
		namespace = "repokit"
	}
	m := &StoreMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations.",
		}, []string{"backend", "operation", "result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
	}
	for _, c := range []prometheus.Collector{m.operationsTotal, m.operationDuration} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Record observes one operation.
func (m *StoreMetrics) Record(backend, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	m.operationsTotal.WithLabelValues(backend, operation, result).Inc()
}

// Instrument wraps store so every operation is recorded under backend.
func (m *StoreMetrics) Instrument(store uow.Store, backend string) uow.Store {
	if m == nil {
		return store
	}
	return &instrumentedStore{inner: store, backend: backend, metrics: m}
}

type instrumentedStore struct {
	inner   uow.Store
	backend string
	metrics *StoreMetrics
}

func (s *instrumentedStore) Query(ctx context.Context, model *schema.Model, q query.Query) ([]any, error) {
	start := time.Now()
	rows, err := s.inner.Query(ctx, model, q)
	s.metrics.Record(s.backend, "query", time.Since(start), err)
	return rows, err
}

func (s *instrumentedStore) Count(ctx context.Context, model *schema.Model, q query.Query) (int64, error) {
	start := time.Now()
	n, err := s.inner.Count(ctx, model, q)
	s.metrics.Record(s.backend, "count", time.Since(start), err)
	return n, err
}

func (s *instrumentedStore) Load(ctx context.Context, model *schema.Model, key any) (any, bool, error) {
	start := time.Now()
	entity, found, err := s.inner.Load(ctx, model, key)
	s.metrics.Record(s.backend, "load", time.Since(start), err)
	return entity, found, err
}

func (s *instrumentedStore) Commit(ctx context.Context, changes []uow.Change) error {
	start := time.Now()
	err := s.inner.Commit(ctx, changes)
	s.metrics.Record(s.backend, "commit", time.Since(start), err)
	return err
}

package uow

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics publishes unit-of-work throughput and failure counters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	commitsTotal       *prometheus.CounterVec
	commitDuration     prometheus.Histogram
	softDeleteRewrites prometheus.Counter
	eventsDispatched   prometheus.Counter
	dispatchFailures   prometheus.Counter
}

// NewMetrics registers unit-of-work metrics in the provided registerer.
func NewMetrics(registerer prometheus.Registerer, namespace string) (*Metrics, error) {
	if registerer == nil {
		return nil, errors.New("registerer is nil")
	}
	if namespace == "" {
		namespace = "repokit"
	}

	m := &Metrics{
		commitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "commits_total",
			Help:      "Total number of unit-of-work commits by result.",
		}, []string{"result"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "commit_duration_seconds",
			Help:      "Duration of store commits in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		softDeleteRewrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "soft_delete_rewrites_total",
			Help:      "Total number of deletes rewritten into soft deletes.",
		}),
		eventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "events_dispatched_total",
			Help:      "Total number of domain events published after commit.",
		}),
		dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "dispatch_failures_total",
			Help:      "Total number of domain event handler failures.",
		}),
	}

	for _, c := range []prometheus.Collector{m.commitsTotal, m.commitDuration, m.softDeleteRewrites, m.eventsDispatched, m.dispatchFailures} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("register unit of work metric failed: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeCommit(start time.Time, err error) {
	if m == nil {
		return
	}
	m.commitDuration.Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.commitsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) incSoftDeleteRewrite() {
	if m == nil {
		return
	}
	m.softDeleteRewrites.Inc()
}

func (m *Metrics) incDispatched() {
	if m == nil {
		return
	}
	m.eventsDispatched.Inc()
}

func (m *Metrics) incDispatchFailure() {
	if m == nil {
		return
	}
	m.dispatchFailures.Inc()
}

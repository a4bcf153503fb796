// Package health aggregates readiness checks of the store and the event bus.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Checkable is implemented by adapters that can probe their connection.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// CheckableFunc adapts a function to Checkable.
type CheckableFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckableFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type check struct {
	target  Checkable
	timeout time.Duration
}

// Registry runs named checks concurrently.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]check
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]check)}
}

// Register adds target under name, replacing any check with the same name.
// A zero timeout means 5s.
func (r *Registry) Register(name string, target Checkable, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check{target: target, timeout: timeout}
}

// Report is the aggregated outcome of every check, ordered by name.
type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool { return r.Status == StatusHealthy }

// Check runs every registered check.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	checks := make(map[string]check, len(r.checks))
	for name, c := range r.checks {
		names = append(names, name)
		checks[name] = c
	}
	r.mu.RUnlock()
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string, c check) {
			defer wg.Done()
			results[i] = run(ctx, name, c)
		}(i, name, checks[name])
	}
	wg.Wait()

	report := Report{Status: StatusHealthy, Checks: results}
	for _, res := range results {
		if res.Status != StatusHealthy {
			report.Status = StatusUnhealthy
		}
	}
	return report
}

func run(ctx context.Context, name string, c check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.target.HealthCheck(ctx)
	res := CheckResult{Name: name, Status: StatusHealthy, Duration: time.Since(start)}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	}
	return res
}

// Package health provides health check infrastructure for Lumen.
//
// Checkers run concurrently with a shared timeout; the report degrades to
// unhealthy when any check fails. Mount the handler at /healthz for load
// balancers and orchestrators.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents the result of a single health check.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Checker is the interface for health check implementations.
type Checker interface {
	Name() string
	Check(ctx context.Context) *Check
}

// CheckFunc is a function adapter for Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) *Check
}

func (c CheckFunc) Name() string                     { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) *Check { return c.Fn(ctx) }

// Manager coordinates health checks.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	version  string
	timeout  time.Duration
}

// NewManager creates a new health manager.
func NewManager(version string) *Manager {
	return &Manager{
		version: version,
		timeout: 5 * time.Second,
	}
}

// Register adds a health checker.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// RegisterFunc adds a health check function.
func (m *Manager) RegisterFunc(name string, fn func(ctx context.Context) *Check) {
	m.Register(CheckFunc{CheckName: name, Fn: fn})
}

// Check runs all health checks and returns a report.
func (m *Manager) Check(ctx context.Context) *Report {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	report := &Report{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		Checks:    make([]Check, 0, len(checkers)),
	}

	var wg sync.WaitGroup
	results := make([]*Check, len(checkers))
	for idx, checker := range checkers {
		wg.Add(1)
		go func(idx int, checker Checker) {
			defer wg.Done()
			start := time.Now()
			check := checker.Check(ctx)
			check.LatencyMs = time.Since(start).Milliseconds()
			check.Timestamp = time.Now()
			results[idx] = check
		}(idx, checker)
	}
	wg.Wait()

	for _, check := range results {
		if check.Status != StatusHealthy {
			report.Status = StatusUnhealthy
		}
		report.Checks = append(report.Checks, *check)
	}
	return report
}

// Handler serves the full health report as JSON; 503 when unhealthy.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})
}

// NewDatabaseChecker wraps a ping function as a Checker.
func NewDatabaseChecker(name string, ping func(ctx context.Context) error) Checker {
	return CheckFunc{
		CheckName: name,
		Fn: func(ctx context.Context) *Check {
			check := &Check{Name: name, Status: StatusHealthy}
			if err := ping(ctx); err != nil {
				check.Status = StatusUnhealthy
				check.Message = err.Error()
			}
			return check
		},
	}
}

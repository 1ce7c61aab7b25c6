// Package health aggregates dependency probes for the selector's liveness
// and readiness endpoints. Readiness is gated on the statistics snapshot:
// a selector with no snapshot can serve nothing useful, while a missing
// cache or registry only degrades it.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status is the health state of one component or of the whole service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes one dependency. Checks must respect ctx; the readiness
// handler runs them under a shared deadline.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth is the outcome of a single probe.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report aggregates every probe. Status is the worst component status:
// one down component marks the service down, degraded components leave it
// degraded but still ready.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// ProbeTimeout bounds one readiness pass across all checks.
const ProbeTimeout = 5 * time.Second

type namedResult struct {
	name   string
	result ComponentHealth
}

// Checker holds the registered probes and runs them concurrently.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a named probe. Registering the same name twice replaces the
// earlier probe.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all probes concurrently and aggregates them into a Report.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(chan namedResult, len(checks))
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(n string, probe Check) {
			defer wg.Done()
			start := time.Now()
			r := probe(ctx)
			r.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- namedResult{name: n, result: r}
		}(name, check)
	}
	wg.Wait()
	close(results)

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for nr := range results {
		report.Components[nr.name] = nr.result
		switch nr.result.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	if report.Status != StatusUp {
		c.logger.Warn("health degraded", "status", report.Status)
	}
	return report
}

// LiveHandler answers liveness probes. It only proves the process is
// serving; dependency state belongs to readiness.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness probes by running every registered check.
// Degraded still reports ready: the selector can answer from statistics
// alone.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), ProbeTimeout)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

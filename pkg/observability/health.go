package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// checkTimeout bounds each individual probe so one slow dependency cannot
// stall the whole health response
const checkTimeout = 2 * time.Second

// HealthStatus is the aggregate health report for the service
type HealthStatus struct {
	Service   string            `json:"service"`
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates named dependency probes. A checker with no
// registered probes reports healthy: the callback decision path has no hard
// dependencies, so an empty checker is the storeless deployment.
type HealthChecker struct {
	service string

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthChecker creates a checker reporting under the given service name
func NewHealthChecker(service string) *HealthChecker {
	return &HealthChecker{
		service: service,
		checks:  make(map[string]CheckFunc),
	}
}

// AddCheck registers a named dependency probe
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered probe and aggregates the outcome
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(names))
	for _, name := range names {
		checks[name] = h.checks[name]
	}
	h.mu.RUnlock()

	sort.Strings(names)

	results := make(map[string]string, len(names))
	overallStatus := "healthy"

	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checks[name](checkCtx)
		cancel()

		if err != nil {
			results[name] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
		} else {
			results[name] = "healthy"
		}
	}

	return HealthStatus{
		Service:   h.service,
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// Healthy reports whether every registered probe currently passes
func (h *HealthChecker) Healthy(ctx context.Context) bool {
	return h.Check(ctx).Status == "healthy"
}

// HealthHandler returns an HTTP handler serving the aggregate report.
// Unhealthy reports carry a 503 so load balancers drain the instance.
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

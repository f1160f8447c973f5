package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is a dependency whose connection can be checked
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness reports whether a component finished starting
type Readiness interface {
	Initialised() bool
}

// HealthChecker provides health check endpoints
type HealthChecker struct {
	mu       sync.RWMutex
	pingers  map[string]Pinger
	database Readiness
	timeout  time.Duration
	logger   *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a health checker for database. It is not ready
// until the database is initialised.
func NewHealthChecker(database Readiness, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		pingers:  make(map[string]Pinger),
		database: database,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// AddCheck adds a dependency checked on readiness probes
func (h *HealthChecker) AddCheck(name string, p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pingers[name] = p
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks, ready := h.Check(ctx)
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !ready {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

// Check runs every readiness check and returns their results
func (h *HealthChecker) Check(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.pingers))
	for name := range h.pingers {
		names = append(names, name)
	}
	pingers := make(map[string]Pinger, len(h.pingers))
	for name, p := range h.pingers {
		pingers[name] = p
	}
	h.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names)+1)
	ready := true
	if h.database != nil && !h.database.Initialised() {
		checks["database"] = "initialising"
		ready = false
	} else {
		checks["database"] = "healthy"
	}
	for _, name := range names {
		if err := pingers[name].Ping(ctx); err != nil {
			h.logger.Error("Health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unhealthy: " + err.Error()
			ready = false
			continue
		}
		checks[name] = "healthy"
	}
	return checks, ready
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

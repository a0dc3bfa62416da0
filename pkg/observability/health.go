package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// SweeperStatus reports the expiry sweeper's freshness.
type SweeperStatus interface {
	LastRun() (time.Time, error)
}

// HealthChecker aggregates dependency health for liveness and readiness
// probes.
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	sweeper SweeperStatus

	// A sweeper older than this is reported degraded. Degraded only: the
	// resolver enforces expiry itself, so a late sweeper never grants
	// access.
	sweeperMaxAge time.Duration
}

// NewHealthChecker creates a health checker. redis and sweeper may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, sweeper SweeperStatus, sweeperMaxAge time.Duration) *HealthChecker {
	if sweeperMaxAge <= 0 {
		sweeperMaxAge = 5 * time.Minute
	}
	return &HealthChecker{
		db:            db,
		redis:         redisClient,
		sweeper:       sweeper,
		sweeperMaxAge: sweeperMaxAge,
	}
}

// HealthStatus is the aggregated probe response.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the health of one dependency.
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Liveness always returns 200 while the process runs.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks all dependencies, returning 503 when unhealthy.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check performs a full dependency check.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dep := h.checkDatabase(ctx)
		status.Dependencies["database"] = dep
		if dep.Status == StatusUnhealthy {
			// The store is the source of truth: without it every check
			// must deny, so the process is not ready.
			status.Status = StatusUnhealthy
		}
	}

	if h.redis != nil {
		dep := h.checkRedis(ctx)
		status.Dependencies["redis"] = dep
		if dep.Status == StatusUnhealthy && status.Status == StatusHealthy {
			// The check cache is optional; resolution works without it.
			status.Status = StatusDegraded
		}
	}

	if h.sweeper != nil {
		dep := h.checkSweeper()
		status.Dependencies["sweeper"] = dep
		if dep.Status != StatusHealthy && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		return DependencyStatus{
			Status:    StatusUnhealthy,
			Message:   err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}
	return DependencyStatus{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return DependencyStatus{
			Status:    StatusUnhealthy,
			Message:   err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}
	return DependencyStatus{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
}

func (h *HealthChecker) checkSweeper() DependencyStatus {
	lastRun, lastErr := h.sweeper.LastRun()
	switch {
	case lastErr != nil:
		return DependencyStatus{Status: StatusDegraded, Message: lastErr.Error()}
	case lastRun.IsZero():
		return DependencyStatus{Status: StatusHealthy, Message: "no sweep yet"}
	case time.Since(lastRun) > h.sweeperMaxAge:
		return DependencyStatus{Status: StatusDegraded, Message: "sweeper stale"}
	}
	return DependencyStatus{Status: StatusHealthy}
}

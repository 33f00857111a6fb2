package observability

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/padron/pkg/httputil"
)

// HealthChecker provides health check functionality for the role store, the
// inhabitant registry and the optional session revocation cache
type HealthChecker struct {
	version   string
	databases []databaseProbe
	redis     *redis.Client
}

type databaseProbe struct {
	name  string
	db    *sql.DB
	query string
}

// NewHealthChecker creates a new health checker. redis may be nil.
func NewHealthChecker(version string, redis *redis.Client) *HealthChecker {
	return &HealthChecker{
		version: version,
		redis:   redis,
	}
}

// AddDatabase registers a required database. query is run after the ping;
// leave it empty to ping only.
func (h *HealthChecker) AddDatabase(name string, db *sql.DB, query string) *HealthChecker {
	if db != nil {
		h.databases = append(h.databases, databaseProbe{name: name, db: db, query: query})
	}
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks all dependencies and returns 503 when a required one is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	if status.Status == StatusUnhealthy {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	httputil.WriteSuccess(w, status)
}

// Check performs a health check of every registered dependency
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	for _, probe := range h.databases {
		dbStatus := checkDatabase(ctx, probe)
		status.Dependencies[probe.name] = dbStatus
		status.Status = worst(status.Status, dbStatus.Status)
	}

	// Revocations fall back to the in-process cache, so redis only degrades.
	if h.redis != nil {
		redisStatus := h.checkRedis(ctx)
		status.Dependencies["redis"] = redisStatus
		if redisStatus.Status != StatusHealthy {
			status.Status = worst(status.Status, StatusDegraded)
		}
	}

	return status
}

// DependencyNames lists the registered dependencies in a stable order
func (h *HealthChecker) DependencyNames() []string {
	names := make([]string, 0, len(h.databases)+1)
	for _, probe := range h.databases {
		names = append(names, probe.name)
	}
	if h.redis != nil {
		names = append(names, "redis")
	}
	sort.Strings(names)
	return names
}

func worst(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func checkDatabase(ctx context.Context, probe databaseProbe) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}

	err := probe.db.PingContext(ctx)
	if err == nil && probe.query != "" {
		var one int
		if qerr := probe.db.QueryRowContext(ctx, probe.query).Scan(&one); qerr != nil {
			err = qerr
		}
	}
	status.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
		return status
	}

	stats := probe.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		status.Status = StatusDegraded
		status.Message = "connection pool exhausted"
	}

	return status
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}

	err := h.redis.Ping(ctx).Err()
	status.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}

	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods("GET")
	router.HandleFunc("/health/live", checker.Liveness).Methods("GET")
	router.HandleFunc("/health/ready", checker.Readiness).Methods("GET")
}

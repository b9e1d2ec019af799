// Package server exposes the worker's health endpoints and coordinates
// graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Status classifies the outcome of a component check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result is the outcome of probing a single dependency.
type Result struct {
	Name    string            `json:"name"`
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Check probes one dependency of the worker.
type Check func(ctx context.Context) Result

// Report is the body served by /health.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Checks    []Result  `json:"checks,omitempty"`
}

const checkTimeout = 5 * time.Second

// HealthServer serves readiness, liveness, and dependency health over HTTP.
// Checks run on every /health request and report in registration order.
type HealthServer struct {
	version string

	mu     sync.RWMutex
	checks []namedCheck
	ready  bool
	live   bool
}

type namedCheck struct {
	name  string
	check Check
}

// NewHealthServer creates a health server. It starts live but not ready;
// the worker flips readiness once its dependencies are wired.
func NewHealthServer(version string) *HealthServer {
	return &HealthServer{version: version, live: true}
}

// RegisterCheck adds a dependency check under the given name.
func (s *HealthServer) RegisterCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, namedCheck{name: name, check: check})
}

// SetReady flips the readiness probe.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive flips the liveness probe.
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Handler returns the health endpoints. Both the plain and the Kubernetes
// spellings are served.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, path := range []string{"/health", "/healthz"} {
		mux.HandleFunc(path, s.handleHealth)
	}
	for _, path := range []string{"/ready", "/readyz"} {
		mux.HandleFunc(path, s.probe(func() bool { return s.ready }))
	}
	for _, path := range []string{"/live", "/livez"} {
		mux.HandleFunc(path, s.probe(func() bool { return s.live }))
	}
	return mux
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	s.mu.RLock()
	checks := make([]namedCheck, len(s.checks))
	copy(checks, s.checks)
	s.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Checks:    make([]Result, 0, len(checks)),
	}
	for _, nc := range checks {
		res := nc.check(ctx)
		res.Name = nc.name
		report.Checks = append(report.Checks, res)
		report.Status = worse(report.Status, res.Status)
	}

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *HealthServer) probe(get func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.RLock()
		ok := get()
		s.mu.RUnlock()

		report := Report{Status: StatusHealthy, Timestamp: time.Now().UTC()}
		code := http.StatusOK
		if !ok {
			report.Status = StatusUnhealthy
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func worse(a, b Status) Status {
	switch {
	case a == StatusUnhealthy || b == StatusUnhealthy:
		return StatusUnhealthy
	case a == StatusDegraded || b == StatusDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// TemporalCheck reports whether the Temporal frontend answers a health ping.
func TemporalCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			return Result{Status: StatusUnhealthy, Message: "temporal: " + err.Error()}
		}
		return Result{Status: StatusHealthy, Message: "temporal reachable"}
	}
}

// VectorIndexCheck verifies the collection backing the index exists and
// carries the dimension the embedder produces. describe returns the live
// dimension and point count.
func VectorIndexCheck(collection string, dimension int, describe func(ctx context.Context) (int, uint64, error)) Check {
	return func(ctx context.Context) Result {
		details := map[string]string{"collection": collection}
		dim, points, err := describe(ctx)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: "vector index: " + err.Error(), Details: details}
		}
		details["dimension"] = strconv.Itoa(dim)
		details["points"] = strconv.FormatUint(points, 10)
		if dim != dimension {
			return Result{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("collection %s has dimension %d, embedder produces %d", collection, dim, dimension),
				Details: details,
			}
		}
		return Result{Status: StatusHealthy, Message: "vector index ready", Details: details}
	}
}

// LLMCheck reports the configured completion provider. The OpenAI wire
// format has no ping endpoint, so a configured provider counts as healthy.
func LLMCheck(providerName string) Check {
	return func(context.Context) Result {
		if providerName == "" {
			return Result{Status: StatusDegraded, Message: "no LLM provider configured"}
		}
		return Result{
			Status:  StatusHealthy,
			Message: "provider configured",
			Details: map[string]string{"provider": providerName},
		}
	}
}

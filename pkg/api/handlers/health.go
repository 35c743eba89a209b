package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Check is one readiness dependency.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// DependencyHealth is the readiness result of one dependency.
type DependencyHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	service   string
	startedAt time.Time
	checks    []Check
	timeout   time.Duration
}

// NewHealthHandler creates a health handler. With no checks the service is
// ready as soon as it is live.
func NewHealthHandler(service string, checks ...Check) *HealthHandler {
	return &HealthHandler{
		service:   service,
		startedAt: time.Now(),
		checks:    checks,
		timeout:   5 * time.Second,
	}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"service":    h.service,
		"started_at": h.startedAt.UTC(),
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
	}))
}

// Readiness handles GET /health/ready. Checks run concurrently under one
// timeout; any failure answers 503 with per-dependency detail.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make([]DependencyHealth, len(h.checks))
	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			res := DependencyHealth{Name: c.Name(), Status: "healthy", Latency: time.Since(start).String()}
			if err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	data := map[string]any{"dependencies": results}
	for _, res := range results {
		if res.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(res.Name+" not ready", data))
			return
		}
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}

// Package health queries a running service's health endpoints for
// `bootgate health`.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Paths served by `bootgate serve`.
const (
	LivenessPath  = "/health"
	ReadinessPath = "/health/ready"
)

// Dependency is one readiness check result.
type Dependency struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Latency string `json:"latency" yaml:"latency"`
}

// Response mirrors the API health envelope.
type Response struct {
	Status    string `json:"status" yaml:"status"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Data      struct {
		Service      string       `json:"service,omitempty" yaml:"service,omitempty"`
		StartedAt    string       `json:"started_at,omitempty" yaml:"started_at,omitempty"`
		Uptime       string       `json:"uptime,omitempty" yaml:"uptime,omitempty"`
		Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	} `json:"data" yaml:"data"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Healthy reports whether the service answered "healthy".
func (r *Response) Healthy() bool {
	return r.Status == "healthy"
}

// Headers implements output.TableRenderer.
func (r *Response) Headers() []string {
	return []string{"Dependency", "Status", "Latency", "Error"}
}

// Rows implements output.TableRenderer.
func (r *Response) Rows() [][]string {
	rows := make([][]string, 0, len(r.Data.Dependencies))
	for _, d := range r.Data.Dependencies {
		rows = append(rows, []string{d.Name, d.Status, d.Latency, d.Error})
	}
	return rows
}

// Fetch GETs baseURL+path and decodes the envelope. A 503 with a valid body
// is not an error: the caller inspects Healthy.
func Fetch(ctx context.Context, client *http.Client, baseURL, path string) (*Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid health response (HTTP %d): %w", resp.StatusCode, err)
	}
	return &out, nil
}

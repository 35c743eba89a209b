// Package metrics holds bootgate's Prometheus instrumentation.
//
// Metrics are opt-in. Until InitRegistry is called, New returns nil and
// every method on a nil *Metrics is a no-op, so callers never branch on
// whether metrics are enabled.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics with a fresh registry. Go runtime and process
// collectors are included when withRuntime is set (long-running serve).
func InitRegistry(withRuntime bool) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	mu.Lock()
	registry = reg
	mu.Unlock()
	return reg
}

// Reset disables metrics again.
func Reset() {
	mu.Lock()
	registry = nil
	mu.Unlock()
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the active registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler serves the active registry in the Prometheus exposition format.
// With metrics disabled it answers 404.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Push sends the active registry to a Pushgateway under job. It is used by
// the short-lived probe, migrate and up processes, which exit before a
// scrape could reach them.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	reg := GetRegistry()
	if reg == nil || url == "" {
		return nil
	}

	p := push.New(url, job).Gatherer(reg)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

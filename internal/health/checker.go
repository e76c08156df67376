// Package health probes the daemon's backing services for the /health endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component kinds. Failing storage makes the whole service unhealthy.
const (
	KindStorage = "storage"
	KindCache   = "cache"
	KindHTTP    = "http"
)

// Probe is one registered check.
type Probe struct {
	Name  string
	Kind  string
	Check func(ctx context.Context) error
}

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Component represents a checked component.
type Component struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	CheckResult
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Checker runs probes concurrently.
type Checker struct {
	mu         sync.RWMutex
	probes     []Probe
	components []Component

	timeout    time.Duration
	maxLatency time.Duration
	now        func() time.Time
}

// Config holds health checker configuration.
type Config struct {
	Timeout    time.Duration
	MaxLatency time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxLatency == 0 {
		cfg.MaxLatency = 250 * time.Millisecond
	}
	return &Checker{timeout: cfg.Timeout, maxLatency: cfg.MaxLatency, now: time.Now}
}

// Register adds a probe.
func (c *Checker) Register(p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, p)
}

// HTTPProbe reports whether baseURL answers at all; any status counts as reachable.
func HTTPProbe(name, baseURL string, client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return Probe{Name: name, Kind: KindHTTP, Check: func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}}
}

// Check performs all health checks and returns overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := append([]Probe(nil), c.probes...)
	c.mu.RUnlock()

	components := make([]Component, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			components[i] = c.run(ctx, p)
		}()
	}
	wg.Wait()
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()
	return c.overall(components)
}

func (c *Checker) run(ctx context.Context, p Probe) Component {
	comp := Component{Name: p.Name, Kind: p.Kind, CheckResult: CheckResult{Timestamp: c.now()}}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.Check(ctx)
	latency := time.Since(start)
	comp.LatencyMS = latency.Milliseconds()

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Unreachable"
	case latency > c.maxLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "OK"
	}
	return comp
}

func (c *Checker) overall(components []Component) HealthStatus {
	status := StatusHealthy
	critical := false
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Kind == KindStorage {
				critical = true
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	if critical {
		status = StatusUnhealthy
	}
	return HealthStatus{Status: status, Timestamp: c.now(), Components: components}
}

// GetLastStatus returns the last health check result.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overall(c.components)
}

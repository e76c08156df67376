package httpserver

import (
	"net/http"
	"time"

	"github.com/WhyNeet/t3-chat-clone/internal/health"
	"github.com/WhyNeet/t3-chat-clone/internal/httpserver/protocol"
	"github.com/WhyNeet/t3-chat-clone/internal/metrics"
	"github.com/WhyNeet/t3-chat-clone/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
	}
}

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) protocol.Endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.server.handleMetrics)},
	}
}

// HandleHealth reports liveness, the live stream count and, when a checker is
// configured, the state of backing services. Unhealthy storage answers 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"time":    s.now().UTC().Format(time.RFC3339),
		"version": version.Version,
		"streams": s.streams.Len(),
	}
	status := http.StatusOK
	if s.health != nil {
		hs := s.health.Check(r.Context())
		payload["status"] = string(hs.Status)
		payload["components"] = hs.Components
		if hs.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.GetSnapshot())))
}

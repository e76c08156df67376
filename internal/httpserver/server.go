// Package httpserver exposes the completion orchestrator over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/WhyNeet/t3-chat-clone/internal/auth"
	"github.com/WhyNeet/t3-chat-clone/internal/completion"
	"github.com/WhyNeet/t3-chat-clone/internal/health"
	"github.com/WhyNeet/t3-chat-clone/internal/httpserver/protocol"
	"github.com/WhyNeet/t3-chat-clone/internal/metrics"
	"github.com/WhyNeet/t3-chat-clone/internal/models"
	"github.com/WhyNeet/t3-chat-clone/internal/openai"
	"github.com/WhyNeet/t3-chat-clone/internal/ratelimit"
	"github.com/WhyNeet/t3-chat-clone/internal/stream"
)

var defaultEndpointKeys = []string{"completions", "models", "health", "metrics"}

// DefaultKeepAlive is the SSE comment interval used when Options.KeepAlive is zero.
const DefaultKeepAlive = 15 * time.Second

// Completions starts completion runs.
type Completions interface {
	Prompt(ctx context.Context, req completion.PromptRequest) (completion.PromptResult, error)
}

// Streams is the view of the stream registry the SSE handler needs.
type Streams interface {
	LookupFor(h stream.Handle, owner string) (*stream.Receiver, bool)
	Remove(h stream.Handle) bool
	Len() int
}

// Catalog lists selectable models.
type Catalog interface {
	Free() []models.Model
	Paid() []models.Model
	OpenAIList() openai.ModelList
}

// Options wires the server's collaborators. Completions, Streams and Catalog
// are required; the rest are optional.
type Options struct {
	Completions  Completions
	Streams      Streams
	Catalog      Catalog
	Auth         *auth.Manager
	AuthDisabled bool
	RateLimiter  *ratelimit.Limiter
	Metrics      *metrics.Collector
	Health       *health.Checker
	KeepAlive    time.Duration
	EndpointKeys []string
}

// Server exposes REST and SSE endpoints for chat completions.
type Server struct {
	completions  Completions
	streams      Streams
	catalog      Catalog
	auth         *auth.Manager
	authDisabled bool
	limiter      *ratelimit.Limiter
	metrics      *metrics.Collector
	health       *health.Checker
	keepAlive    time.Duration
	endpointKeys []string

	logger   *log.Logger
	logLevel string
	now      func() time.Time
}

// New constructs a Server.
func New(opts Options) *Server {
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	keys := opts.EndpointKeys
	if len(keys) == 0 {
		keys = defaultEndpointKeys
	}
	return &Server{
		completions:  opts.Completions,
		streams:      opts.Streams,
		catalog:      opts.Catalog,
		auth:         opts.Auth,
		authDisabled: opts.AuthDisabled,
		limiter:      opts.RateLimiter,
		metrics:      opts.Metrics,
		health:       opts.Health,
		keepAlive:    keepAlive,
		endpointKeys: keys,
		now:          time.Now,
	}
}

// SetLogger configures logging. Level "debug" enables route and stream tracing.
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpointKeys(r, s.endpointKeys...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	limit := s.rateLimitMiddleware()
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			handler := route.Handler
			if route.Limited && limit != nil {
				handler = limit.Wrap(handler)
			}
			if route.Private {
				handler = s.sessionMiddleware(handler)
			}
			r.Method(route.Method, route.Path, s.instrument(ep.Name()+" "+route.Method+" "+route.Path, handler))
		}
	}
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	var endpoints []protocol.Endpoint
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		} else {
			s.debugf("endpoint %s unavailable, skipping registration", key)
		}
	}
	s.registerEndpoints(r, endpoints...)
	return len(endpoints)
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "completions", "completion":
		return newCompletionsEndpoint(s)
	case "models":
		return newModelsEndpoint(s)
	case "health", "status":
		return newHealthEndpoint(s)
	case "metrics":
		if s.metrics == nil {
			return nil
		}
		return newMetricsEndpoint(s)
	default:
		return nil
	}
}

func (s *Server) rateLimitMiddleware() *ratelimit.Middleware {
	if s.limiter == nil {
		return nil
	}
	mw := ratelimit.NewMiddleware(s.limiter, true, func(r *http.Request) string {
		return UserIDFromContext(r.Context())
	}, s.logger)
	if s.metrics != nil {
		mw.OnReject(s.metrics.RecordRateLimitHit)
	}
	return mw
}

// instrument records request counts, durations and 5xx responses per route.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		s.metrics.RecordRequestStart(name)
		defer func() {
			s.metrics.RecordRequestEnd(name)
			s.metrics.RecordRequest(name, s.now().Sub(start))
			if ww.Status() >= http.StatusInternalServerError {
				s.metrics.RecordError(name)
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

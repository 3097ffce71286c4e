package handler

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/devproxy/internal/backend"
	"github.com/angeloszaimis/devproxy/internal/circuitbreaker"
	"github.com/angeloszaimis/devproxy/internal/metrics"
	"github.com/angeloszaimis/devproxy/internal/route"
)

// Paths served by the dev server itself. They fall under the /@vite
// prefix which the default proxy rule never forwards.
const (
	ClientPath     = "/@vite/client"
	EventsPath     = "/@vite/events"
	MetricsPath    = "/@vite/metrics"
	PrometheusPath = "/@vite/prometheus"
)

const RequestIDHeader = "X-Request-Id"

// Deps are the collaborators of a DevServer. Only Routes, Pool and Local
// are required.
type Deps struct {
	Logger   *slog.Logger
	Routes   *route.Swappable
	Pool     *backend.Pool
	Breakers *circuitbreaker.Registry
	Metrics  *metrics.Collector
	// Internal maps the dev server's own paths to their handlers.
	Internal map[string]http.Handler
	// Local serves requests no proxy rule claims.
	Local http.Handler
}

type DevServer struct {
	logger   *slog.Logger
	routes   *route.Swappable
	pool     *backend.Pool
	breakers *circuitbreaker.Registry
	metrics  *metrics.Collector
	internal map[string]http.Handler
	local    http.Handler
}

func NewDevServer(d Deps) *DevServer {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DevServer{
		logger:   logger,
		routes:   d.Routes,
		pool:     d.Pool,
		breakers: d.Breakers,
		metrics:  d.Metrics,
		internal: d.Internal,
		local:    d.Local,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Reload swaps in a new rule table and drops backends no rule uses anymore.
func (s *DevServer) Reload(t *route.Table) {
	s.routes.Store(t)
	s.pool.Sync(t.Rules())
	s.logger.Info("proxy rules reloaded", slog.Int("rules", len(t.Rules())))
}

func (s *DevServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(RequestIDHeader, requestID)
	}
	w.Header().Set(RequestIDHeader, requestID)

	log := s.logger.With(
		slog.String("request_id", requestID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("client", extractClientIP(r)))

	// Rules see the path as the client sent it, percent-encoding included.
	rawPath := r.URL.EscapedPath()

	if h, ok := s.internal[rawPath]; ok {
		log.Debug("internal endpoint")
		h.ServeHTTP(w, r)
		return
	}

	if rule, ok := s.routes.Match(rawPath); ok {
		s.forward(w, r, rule, log)
		return
	}

	s.serveLocal(w, r, log)
}

func (s *DevServer) forward(w http.ResponseWriter, r *http.Request, rule *route.Rule, log *slog.Logger) {
	target := rule.Target.String()
	log = log.With(slog.String("rule", rule.Pattern), slog.String("target", target))

	s.metrics.Emit(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
		Key:       target,
	})

	var breaker *circuitbreaker.CircuitBreaker
	if s.breakers != nil {
		breaker = s.breakers.GetBreaker(target)
		if !breaker.Allow() {
			retry := int(math.Ceil(breaker.RetryAfter().Seconds()))
			if retry < 1 {
				retry = 1
			}
			log.Warn("circuit open, rejecting request", slog.Int("retry_after", retry))
			s.metrics.Emit(metrics.MetricEvent{
				Type:      metrics.EventRequestRejected,
				Timestamp: time.Now(),
				Key:       target,
			})
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	b := s.pool.Get(rule)
	if !b.IsHealthy() {
		log.Debug("forwarding to a backend marked unhealthy")
	}

	if breaker != nil {
		// The proxy panics with http.ErrAbortHandler when a response breaks
		// off midway. The breaker still needs an outcome.
		defer func() {
			if p := recover(); p != nil {
				settleAborted(breaker, r)
				log.Warn("proxied response aborted", slog.Any("reason", p))
				panic(p)
			}
		}()
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	b.ServeHTTP(rec, r)
	duration := time.Since(start)

	// Transport failures reach the breaker through the pool's error
	// callback. A server error answering a half-open probe reopens it.
	if breaker != nil {
		switch {
		case r.Context().Err() != nil:
			breaker.Abandon()
		case rec.statusCode < http.StatusInternalServerError:
			breaker.RecordSuccess()
		case breaker.State() == circuitbreaker.StateHalfOpen:
			breaker.RecordFailure()
		}
	}

	s.metrics.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Timestamp:  time.Now(),
		Key:        target,
		Duration:   duration,
		StatusCode: rec.statusCode,
	})

	log.Info("proxied",
		slog.Int("status", rec.statusCode),
		slog.Duration("duration", duration))
}

func (s *DevServer) serveLocal(w http.ResponseWriter, r *http.Request, log *slog.Logger) {
	s.metrics.Emit(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
		Key:       metrics.LocalKey,
	})

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	if s.local != nil {
		s.local.ServeHTTP(rec, r)
	} else {
		http.NotFound(rec, r)
	}
	duration := time.Since(start)

	s.metrics.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Timestamp:  time.Now(),
		Key:        metrics.LocalKey,
		Duration:   duration,
		StatusCode: rec.statusCode,
	})

	log.Info("served locally",
		slog.Int("status", rec.statusCode),
		slog.Duration("duration", duration))
}

// settleAborted records a forward that never completed. When the client
// left, the target is not to blame.
func settleAborted(breaker *circuitbreaker.CircuitBreaker, r *http.Request) {
	if r.Context().Err() != nil {
		breaker.Abandon()
		return
	}
	breaker.RecordFailure()
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

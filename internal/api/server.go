package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-status-stream/internal/channel"
	"github.com/JakeFAU/realtime-status-stream/internal/metrics"
	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

const (
	requestTimeout = 10 * time.Second
	connectBurst   = 3
)

// StreamManager is the subset of *channel.Manager the server drives.
type StreamManager interface {
	Connect()
	Disconnect()
	ClearHistory()
	State() channel.ConnectionState
	Latest() (status.Event, bool)
	History() []status.Event
	Attempts() int
	ScopeID() string
}

// Options configures NewServer.
//   - Gatherer: registry served at /metrics (defaults to the global one).
//   - HTTPMetrics: optional request instrumentation.
//   - ConnectLimiter: throttles POST /v1/connect (defaults to 3 burst, 1/s).
//   - Logger: optional structured logger.
type Options struct {
	Gatherer       prometheus.Gatherer
	HTTPMetrics    *metrics.HTTP
	ConnectLimiter *rate.Limiter
	Logger         *zap.Logger
}

// Server wires HTTP handlers to a channel manager.
type Server struct {
	router         chi.Router
	mgr            StreamManager
	connectLimiter *rate.Limiter
	logger         *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(mgr StreamManager, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := opts.ConnectLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), connectBurst)
	}
	s := &Server{
		mgr:            mgr,
		connectLimiter: limiter,
		logger:         logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if opts.HTTPMetrics != nil {
		r.Use(opts.HTTPMetrics.Middleware)
	}
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler(opts.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/history", s.getHistory)
		r.Delete("/history", s.clearHistory)
		r.Post("/connect", s.connect)
		r.Post("/disconnect", s.disconnect)
		r.Get("/entities/{entity_id}", s.getEntity)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	state := s.mgr.State()
	if state != channel.StateConnected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(state)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

// RequestID returns the id assigned by the request-id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

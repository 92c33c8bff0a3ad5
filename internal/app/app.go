// Package app initializes and holds long-lived client services, acting as a
// dependency injection container for the CLI.
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-status-stream/internal/api"
	"github.com/JakeFAU/realtime-status-stream/internal/channel"
	"github.com/JakeFAU/realtime-status-stream/internal/clock/system"
	"github.com/JakeFAU/realtime-status-stream/internal/config"
	"github.com/JakeFAU/realtime-status-stream/internal/id/uuid"
	"github.com/JakeFAU/realtime-status-stream/internal/metrics"
	"github.com/JakeFAU/realtime-status-stream/internal/sinks"
	"github.com/JakeFAU/realtime-status-stream/internal/transport/ws"
)

// Options overrides collaborators, mostly for tests.
//   - Dialer: transport for every manager (defaults to the WebSocket dialer).
//   - Clock: reconnect timer source (defaults to the system clock).
type Options struct {
	Dialer channel.Dialer
	Clock  channel.Clock
}

// App holds the shared, long-lived services: logger, metrics registry, sinks
// and the per-scope manager registry.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry    *prometheus.Registry
	promSink    *sinks.PrometheusSink
	logSink     *sinks.LogSink
	httpMetrics *metrics.HTTP

	dialer   channel.Dialer
	clock    channel.Clock
	managers *channel.Registry
}

// New wires the services described by cfg. It fails fast if a metrics
// collector cannot be registered.
func New(cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	httpMetrics, err := metrics.NewHTTP(reg)
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = ws.NewDialer(ws.Config{
			DialTimeout: cfg.Stream.DialTimeout,
			UserAgent:   cfg.Stream.UserAgent,
			Logger:      logger.Named("ws"),
		})
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}

	a := &App{
		cfg:         cfg,
		logger:      logger,
		registry:    reg,
		promSink:    promSink,
		logSink:     sinks.NewLogSink(logger.Named("events")),
		httpMetrics: httpMetrics,
		dialer:      dialer,
		clock:       clock,
	}
	a.managers = channel.NewRegistry(a.newManager, logger.Named("registry"), channel.WithEvict(promSink.Forget))
	logger.Info("application services initialized", zap.String("endpoint", cfg.Stream.Endpoint))
	return a, nil
}

func (a *App) newManager(sess channel.Session) (*channel.Manager, error) {
	scopeMetrics := a.promSink.ForScope(sess.ScopeID)
	mgr, err := channel.NewManager(channel.Config{
		Endpoint:    a.cfg.Stream.Endpoint,
		Session:     sess,
		Policy:      a.cfg.Policy(),
		HistorySize: a.cfg.History.Size,
		Dialer:      a.dialer,
		Clock:       a.clock,
		Observer:    scopeMetrics,
		IDs:         uuid.New(),
		Logger:      a.logger.Named("channel"),
	})
	if err != nil {
		return nil, fmt.Errorf("new manager: %w", err)
	}
	mgr.Subscribe(scopeMetrics)
	mgr.Subscribe(a.logSink)
	return mgr, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Gatherer exposes the metrics registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// Acquire returns the shared manager for sess and a release func.
func (a *App) Acquire(sess channel.Session) (*channel.Manager, func(), error) {
	mgr, release, err := a.managers.Acquire(sess)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire status channel: %w", err)
	}
	return mgr, release, nil
}

// HTTPServer builds the debug server for mgr on the configured port.
func (a *App) HTTPServer(mgr api.StreamManager) *http.Server {
	srv := api.NewServer(mgr, api.Options{
		Gatherer:    a.registry,
		HTTPMetrics: a.httpMetrics,
		Logger:      a.logger.Named("api"),
	})
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close disconnects every manager and flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.managers.Close()
	// Sync commonly fails on stderr/stdout; nothing useful to do about it.
	_ = a.logger.Sync()
}

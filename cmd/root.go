// Package cmd defines and implements the CLI commands for the statusstream executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-status-stream/internal/app"
	"github.com/JakeFAU/realtime-status-stream/internal/config"
	"github.com/JakeFAU/realtime-status-stream/internal/logging"
	"github.com/JakeFAU/realtime-status-stream/internal/telemetry"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap in a
// fake transport.
var newApp = func(cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(cfg, logger, app.Options{})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		tracer  *sdktrace.TracerProvider
	)
	cmd := &cobra.Command{
		Use:   "statusstream",
		Short: "Follow a real-time status channel from the command line.",
		Long: `statusstream keeps one authenticated connection to a status channel,
reconnecting with capped exponential backoff, and reports per-entity progress
derived from the event stream.`,
		SilenceUsage: true,

		// Build and inject the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			spans, err := telemetry.NewSpanProcessor(cfg.Tracing.Exporter, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			tracer, err = telemetry.InitTracerProvider(cmd.Context(), telemetry.ServiceName, spans)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			appInstance, err := newApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Shut services down once the subcommand returns.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
			if tracer != nil {
				_ = tracer.Shutdown(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newWatchCmd(), newHistoryCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "statusstream: %v\n", err)
		stop()
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-status-stream/internal/projector"
)

const shutdownTimeout = 5 * time.Second

type watchOptions struct {
	entityID string
	scopeID  string
	serve    bool
}

// newWatchCmd creates the 'watch' subcommand, which holds the channel open
// until the process is interrupted.
func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to the status channel and log events",
		Long: `Opens the status channel for the configured scope and logs every event.
With --entity, also tracks one entity and logs its derived state after each
matching event. With --serve, exposes the debug HTTP API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.entityID, "entity", "", "entity id to project")
	cmd.Flags().StringVar(&opts.scopeID, "scope", "", "override stream.scope_id")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "serve the debug API even if server.enabled is false")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	sess := cfg.Session()
	if opts.scopeID != "" {
		sess.ScopeID = opts.scopeID
	}
	mgr, release, err := appInstance.Acquire(sess)
	if err != nil {
		return err
	}
	defer release()

	if opts.entityID != "" {
		p := projector.New(mgr, opts.entityID,
			projector.WithReplay(),
			projector.WithOnChange(func(s projector.State) {
				fields := []zap.Field{
					zap.String("entity_id", s.EntityID),
					zap.Bool("active", s.Active),
					zap.Int("percent", s.Percent),
					zap.Int("events", len(s.Events)),
				}
				if s.LastError != nil {
					fields = append(fields, zap.String("last_error", *s.LastError))
				}
				logger.Info("entity state", fields...)
			}),
		)
		defer p.Close()
	}

	if opts.serve || cfg.Server.Enabled {
		srv := appInstance.HTTPServer(mgr)
		errCh := make(chan error, 1)
		go func() {
			logger.Info("debug api listening", zap.String("addr", srv.Addr))
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				errCh <- serveErr
			}
		}()
		defer shutdown(srv, logger)

		select {
		case <-ctx.Done():
		case serveErr := <-errCh:
			return fmt.Errorf("debug api: %w", serveErr)
		}
		return nil
	}

	<-ctx.Done()
	logger.Info("watch interrupted", zap.String("state", string(mgr.State())))
	return nil
}

func shutdown(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("debug api shutdown failed", zap.Error(err))
	}
}

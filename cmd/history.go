package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-status-stream/internal/status"
)

const historyTimeout = 5 * time.Second

type historyOptions struct {
	addr     string
	entityID string
	limit    int
	asJSON   bool
}

// newHistoryCmd creates the 'history' subcommand, which reads the buffered
// events from a running watcher's debug API.
func newHistoryCmd() *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the event history of a running watcher",
		Long: `Fetches GET /v1/history from the debug API of a running 'watch --serve'
process and prints it as a table, oldest first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "debug API base URL (default http://127.0.0.1:<server.port>)")
	cmd.Flags().StringVar(&opts.entityID, "entity", "", "only show events for this entity")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "show at most the newest N events")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print raw JSON instead of a table")
	return cmd
}

func runHistory(cmd *cobra.Command, opts *historyOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	base := opts.addr
	if base == "" {
		base = fmt.Sprintf("http://127.0.0.1:%d", appInstance.Config().Server.Port)
	}
	events, err := fetchHistory(cmd.Context(), base, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(events); err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Time", "Entity", "Phase", "Status", "Progress", "Message"})
	for _, evt := range events {
		progress := ""
		if pct, ok := evt.Percent(); ok {
			progress = strconv.Itoa(pct) + "%"
		}
		tw.AppendRow(table.Row{
			evt.Timestamp.UTC().Format(time.RFC3339),
			evt.EntityID,
			evt.Phase,
			evt.Status,
			progress,
			evt.Message,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", len(events)})
	tw.Render()
	return nil
}

func fetchHistory(ctx context.Context, base string, opts *historyOptions) ([]status.Event, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	u = u.JoinPath("/v1/history")
	q := u.Query()
	if opts.entityID != "" {
		q.Set("entity_id", opts.entityID)
	}
	if opts.limit > 0 {
		q.Set("limit", strconv.Itoa(opts.limit))
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: unexpected status %s", resp.Status)
	}
	var payload struct {
		Events []status.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return payload.Events, nil
}

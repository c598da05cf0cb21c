package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Load every source, then follow their changes until interrupted",
		Long: `Load every enabled source, then keep running: sources that can watch push their
changes, and every source is refreshed on --interval. When metrics.addr is set,
Prometheus metrics are served on /metrics.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, interval, cmd)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "full refresh interval (0 disables)")
	return cmd
}

func runWatch(opts *RootOptions, interval time.Duration, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.Close()

	if addr := opts.Config.Metrics.Addr; addr != "" {
		srv := serveMetrics(a, addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	result := loadAll(ctx, a)
	if err := writeOutput(cmd.OutOrStdout(), opts.Format, result, result.text); err != nil {
		return err
	}
	a.log.WithField("sources", len(result.Sources)).Info("watching for changes")

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutting down")
			return nil
		case <-tick:
			for id, err := range a.orch.RefreshAll(ctx) {
				a.log.WithError(err).WithField("source", id).Warn("periodic refresh failed")
			}
			a.sweepOverdue(ctx)
		}
	}
}

func serveMetrics(a *app, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("metrics server failed")
		}
	}()
	a.log.WithField("addr", addr).Info("serving metrics")
	return srv
}

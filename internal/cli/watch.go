package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/flocksync/internal/engine"
	"github.com/roach88/flocksync/internal/session"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Refresh     time.Duration
	MetricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the collection hydrated until interrupted",
		Long: `Hydrate the collection, then keep it converged.

The session file is watched; signing in or out swaps between the local and
remote stores. The active store is re-read every refresh interval. Each
applied change prints a summary line.

Example:
  flocksync watch --config flocksync.yaml
  flocksync watch --refresh 10s --metrics-addr :9464`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Refresh, "refresh", 0, "refresh interval (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	a, err := openApp(cmd, opts.RootOptions, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = a.cfg.RefreshInterval.Std()
	}
	metricsAddr := opts.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = a.cfg.MetricsAddr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	w := cmd.OutOrStdout()
	unsubscribe := a.engine.Subscribe(func(snap engine.Snapshot) {
		fmt.Fprintf(w, "version %d: %d records in %d categories\n",
			snap.Version, snap.State.Len(), len(snap.State))
	})
	defer unsubscribe()

	if a.cfg.SessionFile != "" {
		watcher, err := session.NewWatcher(a.cfg.SessionFile, func(s session.Session) {
			slog.Info("session changed", "mode", a.resolver.Mode(s), "user_id", s.UserID)
			a.engine.Enqueue(engine.Request{
				Kind:     engine.RequestSessionChange,
				Strategy: a.resolver.Resolve(s),
				Reason:   "session_file",
			})
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to watch session file", err)
		}
		go func() {
			if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("session watcher stopped", "error", err)
			}
		}()
		defer func() {
			if err := watcher.Stop(); err != nil {
				slog.Debug("error stopping session watcher", "error", err)
			}
		}()
	}

	if refresh > 0 {
		go refreshLoop(ctx, a.engine, refresh)
	}

	snap := a.engine.Snapshot()
	fmt.Fprintf(w, "watching %s (%s store): %d records\n",
		a.cfg.Collection, a.resolver.Mode(a.session), snap.State.Len())

	if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("watch stopped")
	return nil
}

// refreshLoop enqueues a refresh every interval until ctx is done.
func refreshLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !eng.Enqueue(engine.Request{Kind: engine.RequestRefresh, Reason: "ticker"}) {
				return
			}
		}
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

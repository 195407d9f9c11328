package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tandasync/internal/retry"
)

const shutdownTimeout = 5 * time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the retry scheduler until interrupted",
		Long: `Run the failed-deposit scheduler in the foreground.

On start the local cache is synced with the ledger and records left
mid-retry by a crash are recovered. The scheduler then ticks every
retry.tickInterval. When metrics.listen is set, prometheus metrics are
served on /metrics.

Example:
  tanda run
  TANDA_METRICS_LISTEN=:9090 tanda run --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(rootOpts, cmd)
		},
	}
}

func runScheduler(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

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
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if res, err := a.svc.Sync(ctx); err != nil {
		a.logger.Warn("initial sync failed", "error", err)
	} else {
		a.logger.Info("initial sync",
			"published", len(res.Published),
			"deferred", res.Deferred,
			"remote", res.Report.Remote,
			"local_only", res.Report.LocalOnly,
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	if addr := a.cfg.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}

		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	sched := retry.NewScheduler(a.svc.Registry(), a.env.Clock, a.cfg.Retry.TickInterval, a.logger)
	ticket := sched.Start(gctx)
	a.logger.Info("scheduler started",
		"wallet", a.env.Wallet.Address(),
		"tick_interval", a.cfg.Retry.TickInterval,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Scheduler started. Press Ctrl-C to stop.")

	<-gctx.Done()
	sched.Stop(ticket)

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "run", err)
	}
	a.logger.Info("scheduler stopped")
	return nil
}

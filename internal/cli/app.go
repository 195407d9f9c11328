package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/tandasync/internal/clock"
	"github.com/roach88/tandasync/internal/config"
	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/ledger/httpledger"
	"github.com/roach88/tandasync/internal/logging"
	"github.com/roach88/tandasync/internal/metrics"
	"github.com/roach88/tandasync/internal/orchestrator"
	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/store"
	"github.com/roach88/tandasync/internal/store/badgerstore"
)

// Env is what the engine runs against.
type Env struct {
	Ledger   ledger.Ledger
	Wallet   ledger.Wallet
	KV       store.KV
	Clock    clock.Clock
	Notifier ledger.Notifier
}

// Backend builds the Env for a loaded configuration.
type Backend func(cfg config.Config, logger *slog.Logger) (Env, error)

// OpenBackend connects to the configured ledger facade and opens the
// configured store.
func OpenBackend(cfg config.Config, logger *slog.Logger) (Env, error) {
	if cfg.Wallet == "" {
		return Env{}, errors.New("no wallet configured (set wallet or TANDA_WALLET)")
	}
	if cfg.Ledger.URL == "" {
		return Env{}, errors.New("no ledger configured (set ledger.url or TANDA_LEDGER_URL)")
	}
	client, err := httpledger.New(cfg.Ledger.URL, &http.Client{Timeout: cfg.Retry.CallTimeout}, logger)
	if err != nil {
		return Env{}, err
	}
	kv, err := openStore(cfg.Store, logger)
	if err != nil {
		return Env{}, err
	}
	return Env{
		Ledger: client,
		Wallet: client.Wallet(cfg.Wallet),
		KV:     kv,
		Clock:  clock.System{},
	}, nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.KV, error) {
	switch cfg.Backend {
	case "sqlite":
		kv, err := store.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case "badger":
		kv, err := badgerstore.Open(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// app is a command's view of the engine.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	env      Env
	registry *prometheus.Registry
	svc      *orchestrator.Service
}

func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr(), opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure logging", err)
	}

	backend := opts.Backend
	if backend == nil {
		backend = OpenBackend
	}
	env, err := backend(cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open backend", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svcOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics.New(reg)),
		orchestrator.WithRetryPolicy(retry.Policy{
			GracePeriod:   cfg.Retry.GracePeriod,
			RetryInterval: cfg.Retry.RetryInterval,
			MaxAttempts:   cfg.Retry.MaxAttempts,
			CallTimeout:   cfg.Retry.CallTimeout,
			CleanupAge:    cfg.Retry.CleanupAge,
		}),
		orchestrator.WithDelinquencyWindow(cfg.Cycle.DelinquencyWindow),
		orchestrator.WithCycleInterval(cfg.Cycle.Interval),
	}
	if env.Notifier != nil {
		svcOpts = append(svcOpts, orchestrator.WithNotifier(env.Notifier))
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		env:      env,
		registry: reg,
		svc:      orchestrator.New(env.Ledger, env.Wallet, env.KV, env.Clock, svcOpts...),
	}, nil
}

// Close waits for background refreshes and closes the store.
func (a *app) Close() {
	a.svc.Cache().Wait()
	if err := a.env.KV.Close(); err != nil {
		a.logger.Error("close store", "error", err)
	}
}

// withApp opens the app, runs fn and closes the app again.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(a *app, out *OutputFormatter) error) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	out := opts.formatter(cmd)
	out.VerboseLog("wallet %s, %s store", a.env.Wallet.Address(), a.cfg.Store.Backend)
	return fn(a, out)
}

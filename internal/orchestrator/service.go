// Package orchestrator is the facade the CLI and the harness talk to.
//
// A Service owns the reputation book, the failed-deposit registry and the
// offline-first cache, and forwards create/join/deposit/advance/leave to
// the Ledger. It never pays out or expels by itself: Advance asks the
// Ledger to do so once the cycle policy says it may.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/tandasync/internal/clock"
	"github.com/roach88/tandasync/internal/cycle"
	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/metrics"
	"github.com/roach88/tandasync/internal/reconcile"
	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/scoring"
	"github.com/roach88/tandasync/internal/store"
	"github.com/roach88/tandasync/internal/tanda"
)

// Service composes the engine around one wallet.
//
// Thread-safety: all methods are safe for concurrent use; the components
// it owns do their own locking.
type Service struct {
	ledger   ledger.Ledger
	wallet   ledger.Wallet
	notifier ledger.Notifier
	clock    clock.Clock
	ids      tanda.IDGenerator
	logger   *slog.Logger
	metrics  *metrics.Metrics

	policy   retry.Policy
	window   time.Duration
	interval time.Duration

	book       *scoring.Book
	cache      *reconcile.Cache
	registry   *retry.Registry
	strategies *strategies
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the prometheus collectors shared with the registry and
// the cache.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithNotifier sets where payment reminders go. Default: dropped.
func WithNotifier(n ledger.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithIDGenerator sets the provisional id source. Default: tanda.LocalIDGenerator.
func WithIDGenerator(g tanda.IDGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithRetryPolicy sets the failed-deposit policy. Zero fields keep their
// defaults.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithDelinquencyWindow sets how long after a payout members may still
// deposit. Default: cycle.DefaultDelinquencyWindow.
func WithDelinquencyWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithCycleInterval sets the spacing used for projected due dates.
// Default: cycle.DefaultCycleInterval.
func WithCycleInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New builds a Service for wallet against l, persisting its state in kv.
func New(l ledger.Ledger, w ledger.Wallet, kv store.KV, clk clock.Clock, opts ...Option) *Service {
	s := &Service{
		ledger:   l,
		wallet:   w,
		notifier: ledger.NopNotifier{},
		clock:    clk,
		ids:      tanda.LocalIDGenerator{},
		logger:   slog.New(slog.DiscardHandler),
		window:   cycle.DefaultDelinquencyWindow,
		interval: cycle.DefaultCycleInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewUnregistered()
	}

	s.book = scoring.NewBook(kv, clk)
	s.strategies = newStrategies(l, w, s.notifier, s.book, s.logger)
	s.registry = retry.NewRegistry(kv, clk, s.policy, s.strategies, s.strategies,
		retry.WithLogger(s.logger),
		retry.WithMetrics(s.metrics),
	)
	s.policy = s.registry.Policy()
	s.cache = reconcile.NewCache(kv, reconcile.SourceFunc(s.fetchOwn),
		reconcile.WithLogger(s.logger),
		reconcile.WithMetrics(s.metrics),
	)
	return s
}

// Wallet returns the address the service acts for.
func (s *Service) Wallet() string {
	return s.wallet.Address()
}

// Registry returns the failed-deposit registry, for the scheduler and
// the retries commands.
func (s *Service) Registry() *retry.Registry {
	return s.registry
}

// Cache returns the offline-first tanda cache.
func (s *Service) Cache() *reconcile.Cache {
	return s.cache
}

// Reputation returns the wallet's current reputation.
func (s *Service) Reputation(ctx context.Context) (tanda.UserReputation, error) {
	return s.book.Get(ctx, s.wallet.Address())
}

// DelinquencyWindow returns the effective window.
func (s *Service) DelinquencyWindow() time.Duration {
	return s.window
}

func (s *Service) fetchOwn(ctx context.Context) ([]tanda.Tanda, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.ledger.GetTandas(ctx, ledger.Filter{Wallet: s.wallet.Address()})
}

// callContext bounds one ledger call.
func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.policy.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.policy.CallTimeout)
}

// Get returns the ledger's view of id. When the ledger is unreachable
// the cached copy is returned together with the transient error.
func (s *Service) Get(ctx context.Context, id string) (tanda.Tanda, error) {
	callCtx, cancel := s.callContext(ctx)
	t, err := s.ledger.GetTanda(callCtx, id)
	cancel()
	if err == nil {
		s.remember(ctx, t)
		return t, nil
	}
	if tanda.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		if cached, ok, cerr := s.cache.Get(ctx, id); cerr == nil && ok {
			return cached, err
		}
	}
	return tanda.Tanda{}, err
}

// remember writes t into the cache. Cache failures only cost freshness.
func (s *Service) remember(ctx context.Context, t tanda.Tanda) {
	if err := s.cache.PutLocal(ctx, t); err != nil {
		s.logger.Warn("cache tanda", "tanda_id", t.ID, "error", err)
	}
}

// remind schedules the deposit reminder for the current cycle when the
// wallet still owes it.
func (s *Service) remind(ctx context.Context, t tanda.Tanda) {
	info, ok := cycle.NextPayment(t, s.wallet.Address(), s.clock.Now(), s.window)
	if !ok || info.HasDeposited {
		return
	}
	r := ledger.Reminder{
		Wallet: s.wallet.Address(),
		Cycle:  info.Cycle,
		Title:  "Deposit due: " + t.Name,
		Body:   info.Amount.String() + " due before " + info.DueAt.UTC().Format(time.RFC3339),
	}
	if err := s.notifier.Schedule(ctx, t.ID, info.DueAt, r); err != nil {
		s.logger.Warn("schedule reminder", "tanda_id", t.ID, "error", err)
	}
}

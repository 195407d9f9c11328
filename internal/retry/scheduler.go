package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tandasync/internal/clock"
	"github.com/roach88/tandasync/internal/tanda"
)

// DefaultTickInterval is how often the scheduler scans for due records.
const DefaultTickInterval = time.Hour

// Scheduler periodically processes due records of a Registry.
//
// Records within one tick are processed one after another, never in
// parallel. Tick may also be called directly, which is how tests and the
// simulate command drive it.
type Scheduler struct {
	reg      *Registry
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running *Ticket
}

// Ticket is the handle returned by Start and consumed by Stop.
type Ticket struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// TickResult summarises one tick.
type TickResult struct {
	Processed int
	Resolved  int
	Retrying  int
	Expelled  int
	Errors    int
	Swept     int
}

// NewScheduler creates a scheduler ticking every interval
// (DefaultTickInterval if zero).
func NewScheduler(reg *Registry, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{reg: reg, clock: clk, interval: interval, logger: logger}
}

// Start launches the loop: recover interrupted records, tick once, then
// tick every interval until ctx is cancelled or Stop is called.
// Starting a running scheduler returns the existing ticket.
func (s *Scheduler) Start(ctx context.Context) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil {
		return s.running
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Ticket{cancel: cancel, done: make(chan struct{})}
	s.running = t

	go s.loop(ctx, t)
	return t
}

// Stop cancels the loop behind t and waits for an in-flight tick to end.
// Safe to call more than once.
func (s *Scheduler) Stop(t *Ticket) {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done

	s.mu.Lock()
	if s.running == t {
		s.running = nil
	}
	s.mu.Unlock()
}

// Running reports whether a loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running != nil
}

func (s *Scheduler) loop(ctx context.Context, t *Ticket) {
	defer close(t.done)

	s.logger.Info("retry scheduler starting", "interval", s.interval)
	if _, err := s.reg.Recover(ctx); err != nil {
		s.logger.Error("recover records", "error", err)
	}

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return
		case <-s.clock.After(s.interval):
		}
	}
}

// Tick processes every due record sequentially and sweeps old terminal
// records. Per-record failures are logged and counted, not returned.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	start := s.clock.Now()
	defer func() {
		s.reg.metrics.TickDuration.Observe(clock.Since(s.clock, start).Seconds())
	}()

	due, err := s.reg.Due(ctx, s.clock.Now())
	if err != nil {
		return res, err
	}

	for _, rec := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		out, err := s.reg.Process(ctx, rec.Key)
		if err != nil {
			// Another path claimed the record since Due ran.
			if tanda.IsConflict(err) {
				continue
			}
			res.Errors++
			s.logger.Error("process record",
				"tanda_id", rec.TandaID,
				"wallet", rec.Wallet,
				"cycle", rec.Cycle,
				"error", err,
			)
			continue
		}
		res.Processed++
		switch out.Status {
		case StatusResolved:
			res.Resolved++
		case StatusPendingRetry:
			res.Retrying++
		case StatusUserExpelled, StatusFailedPermanent:
			res.Expelled++
		}
	}

	swept, err := s.reg.Sweep(ctx, s.clock.Now())
	if err != nil {
		return res, err
	}
	res.Swept = swept

	if res.Processed > 0 || res.Swept > 0 {
		s.logger.Info("scheduler tick",
			"processed", res.Processed,
			"resolved", res.Resolved,
			"expelled", res.Expelled,
			"swept", res.Swept,
		)
	}
	return res, nil
}

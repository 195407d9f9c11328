package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/ledger/memledger"
	"github.com/roach88/tandasync/internal/orchestrator"
	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/store"
	"github.com/roach88/tandasync/internal/tanda"
	"github.com/roach88/tandasync/internal/testutil"
)

// errOffline is what the ledger fails with between offline and online.
var errOffline = errors.New("network unreachable")

// Option configures a run.
type Option func(*Harness)

// WithLogger routes the engine's logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Harness holds the collaborators of one scenario run.
type Harness struct {
	wallet   string
	clock    *testutil.FakeClock
	start    time.Time
	ledger   *memledger.Ledger
	notifier *ledger.MemoryNotifier
	svc      *orchestrator.Service
	sched    *retry.Scheduler
	logger   *slog.Logger

	// current is the tanda steps apply to.
	current string
	seq     int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh ledger, store and clock. A step whose
// outcome differs from its expect is recorded as an error and the flow
// carries on, so one run reports every divergence. The returned error is
// reserved for scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(scenario, opts...)
	if err != nil {
		return nil, err
	}
	defer h.svc.Cache().Wait()

	result := NewResult()
	for i, step := range scenario.Flow {
		ev, err := h.execute(ctx, step)
		h.seq++
		ev.Seq = h.seq
		ev.Step = step.Step
		ev.Outcome = outcomeOf(err)
		ev.Elapsed = h.clock.Now().Sub(h.start).String()
		result.Trace = append(result.Trace, ev)

		want := step.Expect
		if want == "" {
			want = "ok"
		}
		if ev.Outcome != want {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected %s, got %s: %v", i, step.Step, want, ev.Outcome, err))
		}
	}

	h.snapshot(ctx, result)
	for _, msg := range EvaluateAssertions(ctx, h, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, opts ...Option) (*Harness, error) {
	window := memledger.DefaultDelinquencyWindow
	if scenario.Window != "" {
		d, err := time.ParseDuration(scenario.Window)
		if err != nil {
			return nil, fmt.Errorf("window: %w", err)
		}
		window = d
	}

	clk := testutil.NewFakeClock(time.Time{})
	h := &Harness{
		wallet:   scenario.Wallet,
		clock:    clk,
		start:    clk.Now(),
		ledger:   memledger.New(clk, window),
		notifier: ledger.NewMemoryNotifier(),
		logger:   slog.New(slog.DiscardHandler),
	}
	if h.wallet == "" {
		h.wallet = DefaultWallet
	}
	for _, opt := range opts {
		opt(h)
	}

	h.svc = orchestrator.New(h.ledger, h.ledger.Wallet(h.wallet), store.NewMemory(), clk,
		orchestrator.WithLogger(h.logger),
		orchestrator.WithNotifier(h.notifier),
		orchestrator.WithIDGenerator(testutil.NewFixedIDGenerator("")),
		orchestrator.WithDelinquencyWindow(window),
	)
	h.sched = retry.NewScheduler(h.svc.Registry(), clk, retry.DefaultTickInterval, h.logger)
	return h, nil
}

// actor resolves the wallet a step acts as.
func (h *Harness) actor(s Step) string {
	if s.As == "" {
		return h.wallet
	}
	return s.As
}

func (h *Harness) self(s Step) bool {
	return h.actor(s) == h.wallet
}

func (h *Harness) execute(ctx context.Context, s Step) (TraceEvent, error) {
	ev := TraceEvent{As: h.actor(s)}
	switch s.Step {
	case StepClock, StepOffline, StepOnline, StepTick, StepSync:
		ev.As = ""
	default:
		ev.Tanda = h.current
	}

	var err error
	switch s.Step {
	case StepCreate:
		ev.Detail, err = h.create(ctx, s)
		ev.Tanda = h.current
	case StepJoin:
		ev.Detail, err = h.join(ctx, s)
	case StepStart:
		ev.Detail, err = h.startTanda(ctx, s)
	case StepLeave:
		err = h.leave(ctx, s)
	case StepFund:
		w := h.ledger.Wallet(h.actor(s))
		w.Fund(decimal.RequireFromString(s.Amount))
		ev.Detail = map[string]any{"balance": w.Balance().String()}
	case StepDeposit:
		ev.Detail, err = h.deposit(ctx, s)
	case StepAdvance:
		ev.Detail, err = h.advance(ctx)
	case StepTick:
		ev.Detail, err = h.tick(ctx)
	case StepForceRetry:
		ev.Detail, err = h.retryAction(ctx, h.svc.ForceRetry)
	case StepCancelRetry:
		ev.Detail, err = h.retryAction(ctx, h.svc.CancelRetry)
	case StepClock:
		h.clock.Advance(mustDuration(s.By))
	case StepOffline:
		h.ledger.SetOffline(errOffline)
	case StepOnline:
		h.ledger.SetOffline(nil)
	case StepSync:
		ev.Detail, err = h.sync(ctx)
	default:
		err = fmt.Errorf("unknown step %q", s.Step)
	}
	return ev, err
}

func (h *Harness) create(ctx context.Context, s Step) (map[string]any, error) {
	req := tanda.CreateRequest{
		Name:            s.Name,
		Amount:          decimal.RequireFromString(s.Amount),
		MaxParticipants: s.Members,
		Creator:         h.actor(s),
	}
	var (
		t   tanda.Tanda
		err error
	)
	if h.self(s) {
		t, err = h.svc.Create(ctx, req)
	} else {
		t, err = h.ledger.CreateTanda(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	h.current = t.ID
	return describeTanda(t), nil
}

func (h *Harness) join(ctx context.Context, s Step) (map[string]any, error) {
	var (
		t   tanda.Tanda
		err error
	)
	if h.self(s) {
		t, err = h.svc.Join(ctx, h.current)
	} else {
		t, err = h.ledger.JoinTanda(ctx, h.current, h.actor(s))
	}
	if err != nil {
		return nil, err
	}
	return describeTanda(t), nil
}

func (h *Harness) startTanda(ctx context.Context, s Step) (map[string]any, error) {
	var (
		t   tanda.Tanda
		err error
	)
	if h.self(s) {
		t, err = h.svc.Start(ctx, h.current)
	} else {
		t, err = h.ledger.StartTanda(ctx, h.current, h.actor(s))
	}
	if err != nil {
		return nil, err
	}
	return describeTanda(t), nil
}

func (h *Harness) leave(ctx context.Context, s Step) error {
	if h.self(s) {
		return h.svc.Leave(ctx, h.current)
	}
	return h.ledger.LeaveTanda(ctx, h.current, h.actor(s))
}

func (h *Harness) deposit(ctx context.Context, s Step) (map[string]any, error) {
	if !h.self(s) {
		return nil, h.payAs(ctx, h.actor(s))
	}
	res, err := h.svc.Deposit(ctx, h.current)
	detail := map[string]any{}
	if res.Message != "" {
		detail["message"] = res.Message
	}
	if res.Record != nil {
		detail["attempt"] = res.Record.AttemptCount
		detail["status"] = string(res.Record.Status)
	}
	return detail, err
}

// payAs deposits for another member the way that member's own device would.
func (h *Harness) payAs(ctx context.Context, wallet string) error {
	t, err := h.ledger.GetTanda(ctx, h.current)
	if err != nil {
		return err
	}
	proof, err := h.ledger.Wallet(wallet).Contribute(ctx, t)
	if err != nil {
		return err
	}
	_, err = h.ledger.ConfirmDeposit(ctx, h.current, wallet, proof)
	return err
}

func (h *Harness) advance(ctx context.Context) (map[string]any, error) {
	out, err := h.svc.Advance(ctx, h.current)
	if err != nil {
		return nil, err
	}
	detail := map[string]any{
		"decision":  out.Decision.String(),
		"forwarded": out.Forwarded,
	}
	if !out.Forwarded {
		return detail, nil
	}
	if out.Result.PaidTo != "" {
		detail["paid_to"] = out.Result.PaidTo
		detail["payout"] = out.Result.Payout.String()
	}
	if len(out.Result.Expelled) > 0 {
		detail["expelled"] = strings.Join(out.Result.Expelled, ",")
	}
	detail["cycle"] = out.Result.Tanda.CurrentCycle
	detail["status"] = string(out.Result.Tanda.Status)
	return detail, nil
}

func (h *Harness) tick(ctx context.Context) (map[string]any, error) {
	res, err := h.sched.Tick(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"processed": res.Processed,
		"resolved":  res.Resolved,
		"retrying":  res.Retrying,
		"expelled":  res.Expelled,
	}, nil
}

func (h *Harness) retryAction(ctx context.Context, act func(context.Context, retry.Key) (orchestrator.DepositStatus, error)) (map[string]any, error) {
	key, err := h.currentKey(ctx)
	if err != nil {
		return nil, err
	}
	st, err := act(ctx, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"attempt": st.Record.AttemptCount,
		"message": st.Message,
		"status":  string(st.Record.Status),
	}, nil
}

// currentKey is the device wallet's deposit key for the current cycle,
// read from the cache when the ledger is away.
func (h *Harness) currentKey(ctx context.Context) (retry.Key, error) {
	t, err := h.svc.Get(ctx, h.current)
	if err != nil && t.ID == "" {
		return retry.Key{}, err
	}
	return retry.Key{TandaID: h.current, Wallet: h.wallet, Cycle: t.CurrentCycle}, nil
}

func (h *Harness) sync(ctx context.Context) (map[string]any, error) {
	res, err := h.svc.Sync(ctx)
	detail := map[string]any{
		"published": len(res.Published),
		"deferred":  res.Deferred,
		"rejected":  res.Rejected,
	}
	for _, p := range res.Published {
		if p.LocalID == h.current {
			h.current = p.ID
			detail["id"] = p.ID
		}
	}
	return detail, err
}

// snapshot stores the end state in result.State.
func (h *Harness) snapshot(ctx context.Context, result *Result) {
	if h.current != "" {
		if t, ok, err := h.svc.Cache().Get(ctx, h.current); err == nil && ok {
			result.State["tanda"] = t
		}
	}
	if rep, err := h.svc.Reputation(ctx); err == nil {
		result.State["reputation"] = rep
	}
	if recs, err := h.svc.DepositStatuses(ctx); err == nil {
		result.State["records"] = recs
	}
}

func describeTanda(t tanda.Tanda) map[string]any {
	return map[string]any{
		"id":      t.ID,
		"status":  string(t.Status),
		"members": len(t.Participants),
		"cycle":   t.CurrentCycle,
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var te *tanda.Error
	if errors.As(err, &te) {
		return strings.ToLower(string(te.Code))
	}
	if errors.Is(err, retry.ErrRecordNotFound) {
		return "not_found"
	}
	return "error"
}

// mustDuration parses a duration validateScenario already checked.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

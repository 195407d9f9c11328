package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/tanda"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s (%s)\n", ev.Seq, ev.Step, ev.As, ev.Outcome, ev.Elapsed)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(ctx context.Context, h *Harness, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, h, result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, h *Harness, result *Result, a Assertion) error {
	wallet := a.Wallet
	if wallet == "" {
		wallet = h.wallet
	}
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
	}

	switch a.Type {
	case AssertRecord:
		key := retry.Key{TandaID: h.current, Wallet: wallet, Cycle: a.Cycle}
		rec, err := h.svc.Registry().Get(ctx, key)
		if err != nil {
			return fail(fmt.Sprintf("record %s", key), err.Error())
		}
		if string(rec.Status) != a.Status {
			return fail(fmt.Sprintf("%s status %s", key, a.Status), string(rec.Status))
		}
		if a.Attempts != nil && rec.AttemptCount != *a.Attempts {
			return fail(fmt.Sprintf("%s attempts %d", key, *a.Attempts), fmt.Sprint(rec.AttemptCount))
		}

	case AssertScore:
		rep, err := h.svc.Reputation(ctx)
		if err != nil {
			return fail("reputation", err.Error())
		}
		if a.Score != nil && rep.Score != *a.Score {
			return fail(fmt.Sprintf("score %d", *a.Score), fmt.Sprint(rep.Score))
		}
		if a.ActiveDebt != nil && rep.ActiveDebt != *a.ActiveDebt {
			return fail(fmt.Sprintf("active_debt %t", *a.ActiveDebt), fmt.Sprint(rep.ActiveDebt))
		}

	case AssertTanda:
		t, err := h.view(ctx)
		if err != nil {
			return fail("tanda "+h.current, err.Error())
		}
		if a.Status != "" && string(t.Status) != a.Status {
			return fail("status "+a.Status, string(t.Status))
		}
		if a.Members != nil && len(t.Participants) != *a.Members {
			return fail(fmt.Sprintf("%d members", *a.Members), fmt.Sprint(len(t.Participants)))
		}
		if a.CurrentCycle != nil && t.CurrentCycle != *a.CurrentCycle {
			return fail(fmt.Sprintf("cycle %d", *a.CurrentCycle), fmt.Sprint(t.CurrentCycle))
		}

	case AssertMember:
		t, err := h.view(ctx)
		if err != nil {
			return fail("tanda "+h.current, err.Error())
		}
		_, _, ok := t.Participant(wallet)
		if ok != *a.Present {
			return fail(fmt.Sprintf("%s present %t", wallet, *a.Present), fmt.Sprint(ok))
		}

	case AssertBalance:
		got := h.ledger.Wallet(wallet).Balance()
		if !got.Equal(decimal.RequireFromString(a.Amount)) {
			return fail(fmt.Sprintf("%s balance %s", wallet, a.Amount), got.String())
		}

	case AssertReminders:
		got := len(h.notifier.Pending(h.current))
		if got != *a.Count {
			return fail(fmt.Sprintf("%d reminders", *a.Count), fmt.Sprint(got))
		}

	case AssertTraceCount:
		got := result.Count(a.Step, a.Outcome)
		if got != *a.Count {
			return fail(fmt.Sprintf("%d %s steps %s", *a.Count, a.Step, a.Outcome), fmt.Sprint(got))
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// view reads the current tanda from the ledger, or from the cache for a
// provisional one.
func (h *Harness) view(ctx context.Context) (tanda.Tanda, error) {
	if (tanda.Tanda{ID: h.current}).IsLocal() {
		t, ok, err := h.svc.Cache().Get(ctx, h.current)
		if err != nil {
			return tanda.Tanda{}, err
		}
		if !ok {
			return tanda.Tanda{}, tanda.NewNotFoundError(h.current)
		}
		return t, nil
	}
	return h.ledger.GetTanda(ctx, h.current)
}

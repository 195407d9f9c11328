package orchestrator

import (
	"context"
	"slices"

	"github.com/roach88/tandasync/internal/cycle"
	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/scoring"
	"github.com/roach88/tandasync/internal/tanda"
)

// AdvanceOutcome is the result of Advance.
type AdvanceOutcome struct {
	Decision cycle.Decision `json:"decision"`
	// Forwarded is true when the ledger was asked to advance.
	Forwarded bool                 `json:"forwarded"`
	Result    ledger.AdvanceResult `json:"result"`
}

// Advance fetches id from the ledger, runs the cycle policy and forwards
// the advance only on PayoutReady or DelinquentsPresent. Payout and
// expulsion are the ledger's job; the service only reacts to what the
// ledger reports.
func (s *Service) Advance(ctx context.Context, id string) (AdvanceOutcome, error) {
	if (tanda.Tanda{ID: id}).IsLocal() {
		return AdvanceOutcome{}, notSynced(id)
	}

	callCtx, cancel := s.callContext(ctx)
	t, err := s.ledger.GetTanda(callCtx, id)
	cancel()
	if err != nil {
		return AdvanceOutcome{}, err
	}

	decision := cycle.Evaluate(t, s.clock.Now(), s.window)
	s.metrics.Advances.WithLabelValues(decision.String()).Inc()
	out := AdvanceOutcome{Decision: decision, Result: ledger.AdvanceResult{Tanda: t}}
	if !decision.ShouldAdvance() {
		s.logger.Debug("advance skipped", "tanda_id", id, "decision", decision.String())
		return out, nil
	}

	callCtx, cancel = s.callContext(ctx)
	res, err := s.ledger.Advance(callCtx, id)
	cancel()
	if err != nil {
		return out, err
	}
	out.Forwarded = true
	out.Result = res
	s.logger.Info("tanda advanced",
		"tanda_id", id,
		"decision", decision.String(),
		"paid_to", res.PaidTo,
		"payout", res.Payout.String(),
		"expelled", len(res.Expelled),
		"cycle", res.Tanda.CurrentCycle,
		"status", res.Tanda.Status,
	)

	s.afterAdvance(ctx, t, res)
	return out, nil
}

// afterAdvance applies the ledger's verdict to local state.
func (s *Service) afterAdvance(ctx context.Context, before tanda.Tanda, res ledger.AdvanceResult) {
	wallet := s.wallet.Address()
	id := res.Tanda.ID

	s.remember(ctx, res.Tanda)

	if slices.Contains(res.Expelled, wallet) {
		// Expelled by the ledger itself: nothing left to retry.
		if _, err := s.registry.CancelAll(ctx, id, wallet); err != nil {
			s.logger.Warn("cancel retries", "tanda_id", id, "error", err)
		}
		if err := s.notifier.CancelAll(ctx, id); err != nil {
			s.logger.Warn("cancel reminders", "tanda_id", id, "error", err)
		}
		return
	}

	if res.Tanda.Status == tanda.StatusCompleted {
		if _, err := s.registry.CancelAll(ctx, id, wallet); err != nil {
			s.logger.Warn("cancel retries", "tanda_id", id, "error", err)
		}
		if _, _, member := res.Tanda.Participant(wallet); member {
			if _, err := s.book.Apply(ctx, wallet, scoring.EventCompleteTanda); err != nil {
				s.logger.Warn("score completion", "wallet", wallet, "error", err)
			}
		}
		if err := s.notifier.CancelAll(ctx, id); err != nil {
			s.logger.Warn("cancel reminders", "tanda_id", id, "error", err)
		}
		return
	}
	// A payout means every remaining member paid the closed cycle.
	if res.Tanda.CurrentCycle != before.CurrentCycle {
		key := retry.Key{TandaID: id, Wallet: wallet, Cycle: before.CurrentCycle}
		s.strategies.settled(ctx, key)
		s.settle(ctx, key)
	}
	s.remind(ctx, res.Tanda)
}

// PreviewAdvance projects what Advance would do without calling the
// ledger's advance. Offline, the cached copy is used.
func (s *Service) PreviewAdvance(ctx context.Context, id string) (cycle.AdvancePreview, error) {
	t, err := s.Get(ctx, id)
	if err != nil && t.ID == "" {
		return cycle.AdvancePreview{}, err
	}
	return cycle.Preview(t, s.clock.Now(), s.window), nil
}

// NextPayment returns what the wallet owes in tanda id. ok is false when
// the wallet has nothing due there.
func (s *Service) NextPayment(ctx context.Context, id string) (cycle.NextPaymentInfo, bool, error) {
	t, err := s.Get(ctx, id)
	if err != nil && t.ID == "" {
		return cycle.NextPaymentInfo{}, false, err
	}
	info, ok := cycle.NextPayment(t, s.wallet.Address(), s.clock.Now(), s.window)
	return info, ok, nil
}

// Schedule projects the payout calendar of tanda id.
func (s *Service) Schedule(ctx context.Context, id string) ([]cycle.PaymentScheduleItem, error) {
	t, err := s.Get(ctx, id)
	if err != nil && t.ID == "" {
		return nil, err
	}
	return cycle.Schedule(t, s.interval), nil
}

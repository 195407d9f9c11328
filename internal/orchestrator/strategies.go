package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/scoring"
	"github.com/roach88/tandasync/internal/tanda"
)

// strategies is the retry and expulsion behaviour plugged into the
// registry.
type strategies struct {
	ledger   ledger.Ledger
	wallet   ledger.Wallet
	notifier ledger.Notifier
	book     *scoring.Book
	logger   *slog.Logger

	mu sync.Mutex
	// unconfirmed holds proofs of contributions whose confirmation failed,
	// so the next attempt confirms instead of paying twice.
	unconfirmed map[retry.Key]ledger.Proof
}

var (
	_ retry.RetryStrategy     = (*strategies)(nil)
	_ retry.ExpulsionStrategy = (*strategies)(nil)
)

func newStrategies(l ledger.Ledger, w ledger.Wallet, n ledger.Notifier, book *scoring.Book, logger *slog.Logger) *strategies {
	return &strategies{
		ledger:      l,
		wallet:      w,
		notifier:    n,
		book:        book,
		logger:      logger,
		unconfirmed: make(map[retry.Key]ledger.Proof),
	}
}

func (s *strategies) remember(key retry.Key, proof ledger.Proof) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unconfirmed[key] = proof
}

func (s *strategies) pending(key retry.Key) (ledger.Proof, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.unconfirmed[key]
	return p, ok
}

func (s *strategies) forget(key retry.Key) {
	s.take(key)
}

// take removes and returns the pending proof for key.
func (s *strategies) take(key retry.Key) (ledger.Proof, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.unconfirmed[key]
	delete(s.unconfirmed, key)
	return p, ok
}

// AttemptRetry contributes and confirms the deposit for rec. A deposit the
// ledger already shows counts as success, and so does a closed cycle the
// wallet is still a member of: the ledger only pays out once every
// remaining member has deposited. A wallet that is no longer a member, or
// a cancelled tanda, abandons the record.
func (s *strategies) AttemptRetry(ctx context.Context, rec retry.Record) (bool, error) {
	if rec.Wallet != s.wallet.Address() {
		return false, fmt.Errorf("wallet %s is not signed on this device", rec.Wallet)
	}

	t, err := s.ledger.GetTanda(ctx, rec.TandaID)
	if err != nil {
		return false, err
	}
	p, _, ok := t.Participant(rec.Wallet)
	if !ok {
		s.forget(rec.Key)
		return false, fmt.Errorf("%w: no longer a member", retry.ErrAbandoned)
	}
	if p.HasDeposited || t.CurrentCycle != rec.Cycle || t.Status == tanda.StatusCompleted {
		s.settled(ctx, rec.Key)
		return true, nil
	}
	if t.Status == tanda.StatusCancelled {
		s.forget(rec.Key)
		return false, fmt.Errorf("%w: tanda cancelled", retry.ErrAbandoned)
	}

	proof, ok := s.pending(rec.Key)
	if !ok {
		proof, err = s.wallet.Contribute(ctx, t)
		if err != nil {
			return false, err
		}
		s.remember(rec.Key, proof)
	}
	if _, err := s.ledger.ConfirmDeposit(ctx, rec.TandaID, rec.Wallet, proof); err != nil {
		return false, fmt.Errorf("confirm deposit: %w", err)
	}
	s.forget(rec.Key)
	s.scoreDeposit(ctx, rec.Wallet)
	return true, nil
}

// settled drops the pending proof for key once the ledger shows the
// deposit. A proof still held means the funds moved but the confirmation
// never came back, so the deposit is credited here.
func (s *strategies) settled(ctx context.Context, key retry.Key) {
	if _, moved := s.take(key); moved {
		s.scoreDeposit(ctx, key.Wallet)
	}
}

// scoreDeposit credits a confirmed deposit and settles any debt left by
// an earlier expulsion.
func (s *strategies) scoreDeposit(ctx context.Context, wallet string) {
	rep, err := s.book.Apply(ctx, wallet, scoring.EventDeposit)
	if err != nil {
		s.logger.Warn("score deposit", "wallet", wallet, "error", err)
		return
	}
	if !rep.ActiveDebt {
		return
	}
	if _, err := s.book.ClearDebt(ctx, wallet); err != nil {
		s.logger.Warn("clear debt", "wallet", wallet, "error", err)
	}
}

// Expel penalises the device's own wallet, asks the ledger to remove the
// member and drops the tanda's reminders. Every step runs even if an
// earlier one failed; the failures are returned joined.
func (s *strategies) Expel(ctx context.Context, rec retry.Record) error {
	var errs []error

	if rec.Wallet == s.wallet.Address() {
		if _, err := s.book.Apply(ctx, rec.Wallet, scoring.EventExpelledForNonpayment); err != nil {
			errs = append(errs, fmt.Errorf("apply penalty: %w", err))
		}
	}
	if err := s.ledger.LeaveTanda(ctx, rec.TandaID, rec.Wallet); err != nil {
		errs = append(errs, fmt.Errorf("ledger removal: %w", err))
	}
	if err := s.notifier.CancelAll(ctx, rec.TandaID); err != nil {
		errs = append(errs, fmt.Errorf("cancel reminders: %w", err))
	}
	s.forget(rec.Key)
	return errors.Join(errs...)
}

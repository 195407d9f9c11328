package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tandasync/internal/scoring"
	"github.com/roach88/tandasync/internal/tanda"
)

// unreachable reports whether err means the ledger could not be asked,
// as opposed to the ledger saying no.
func unreachable(err error) bool {
	return tanda.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// notSynced rejects ledger operations on a tanda that only exists locally.
func notSynced(id string) error {
	return &tanda.Error{Code: tanda.CodeValidation, Message: "tanda is not synced yet", TandaID: id}
}

// admit fails when the wallet's reputation is below the block threshold.
func (s *Service) admit(ctx context.Context) (tanda.UserReputation, error) {
	rep, err := s.book.Get(ctx, s.wallet.Address())
	if err != nil {
		return tanda.UserReputation{}, err
	}
	if scoring.IsBlocked(rep.Score) {
		return rep, &tanda.Error{
			Code:    tanda.CodeValidation,
			Message: fmt.Sprintf("reputation %d is below %d", rep.Score, scoring.BlockThreshold),
			Wallet:  rep.Wallet,
		}
	}
	return rep, nil
}

// Create opens a new tanda with the service's wallet as creator.
//
// When the ledger is unreachable the tanda is kept as a provisional
// "local_" entry in the cache and nil error is returned; Sync publishes
// it later. Validation and reputation failures are never deferred.
func (s *Service) Create(ctx context.Context, req tanda.CreateRequest) (tanda.Tanda, error) {
	req.Creator = s.wallet.Address()
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return tanda.Tanda{}, err
	}
	rep, err := s.admit(ctx)
	if err != nil {
		return tanda.Tanda{}, err
	}

	callCtx, cancel := s.callContext(ctx)
	t, err := s.ledger.CreateTanda(callCtx, req)
	cancel()
	if err != nil {
		if !unreachable(err) {
			return tanda.Tanda{}, err
		}
		t = req.Provisional(s.ids.Generate(), s.clock.Now(), rep.Score)
		if perr := s.cache.PutLocal(ctx, t); perr != nil {
			return tanda.Tanda{}, fmt.Errorf("keep provisional tanda: %w", perr)
		}
		s.logger.Info("ledger unreachable, tanda kept locally", "tanda_id", t.ID, "error", err)
		return t, nil
	}

	s.remember(ctx, t)
	s.created(ctx)
	return t, nil
}

// created scores a tanda the ledger accepted from this wallet.
func (s *Service) created(ctx context.Context) {
	wallet := s.wallet.Address()
	if _, err := s.book.Apply(ctx, wallet, scoring.EventCreateTanda); err != nil {
		s.logger.Warn("score create", "wallet", wallet, "error", err)
	}
	if _, err := s.book.RecordJoined(ctx, wallet); err != nil {
		s.logger.Warn("count tanda", "wallet", wallet, "error", err)
	}
}

// Join adds the wallet to a forming tanda.
func (s *Service) Join(ctx context.Context, id string) (tanda.Tanda, error) {
	if (tanda.Tanda{ID: id}).IsLocal() {
		return tanda.Tanda{}, notSynced(id)
	}
	if _, err := s.admit(ctx); err != nil {
		return tanda.Tanda{}, err
	}

	callCtx, cancel := s.callContext(ctx)
	t, err := s.ledger.JoinTanda(callCtx, id, s.wallet.Address())
	cancel()
	if err != nil {
		return tanda.Tanda{}, err
	}
	s.remember(ctx, t)
	if _, err := s.book.RecordJoined(ctx, s.wallet.Address()); err != nil {
		s.logger.Warn("count tanda", "wallet", s.wallet.Address(), "error", err)
	}
	return t, nil
}

// Start activates a forming tanda. Only its creator may start it.
func (s *Service) Start(ctx context.Context, id string) (tanda.Tanda, error) {
	if (tanda.Tanda{ID: id}).IsLocal() {
		return tanda.Tanda{}, notSynced(id)
	}
	callCtx, cancel := s.callContext(ctx)
	t, err := s.ledger.StartTanda(callCtx, id, s.wallet.Address())
	cancel()
	if err != nil {
		return tanda.Tanda{}, err
	}
	s.remember(ctx, t)
	s.remind(ctx, t)
	return t, nil
}

// Leave removes the wallet from a tanda and cancels everything pending
// for it: retry records and reminders. A provisional tanda is simply
// dropped from the cache.
func (s *Service) Leave(ctx context.Context, id string) error {
	wallet := s.wallet.Address()
	if !(tanda.Tanda{ID: id}).IsLocal() {
		callCtx, cancel := s.callContext(ctx)
		err := s.ledger.LeaveTanda(callCtx, id, wallet)
		cancel()
		if err != nil {
			return err
		}
	}

	n, err := s.registry.CancelAll(ctx, id, wallet)
	if err != nil {
		return fmt.Errorf("cancel retries: %w", err)
	}
	if err := s.notifier.CancelAll(ctx, id); err != nil {
		s.logger.Warn("cancel reminders", "tanda_id", id, "error", err)
	}
	if err := s.cache.Remove(ctx, id); err != nil {
		s.logger.Warn("uncache tanda", "tanda_id", id, "error", err)
	}
	s.logger.Info("left tanda", "tanda_id", id, "wallet", wallet, "cancelled_retries", n)
	return nil
}

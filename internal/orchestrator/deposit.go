package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tandasync/internal/cycle"
	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/tanda"
)

// DepositResult is the outcome of Deposit.
type DepositResult struct {
	Tanda tanda.Tanda `json:"tanda"`
	// Proof is set when this call moved funds.
	Proof *ledger.Proof `json:"proof,omitempty"`
	// Record is set when the deposit failed and was handed to the registry.
	Record  *retry.Record `json:"record,omitempty"`
	Message string        `json:"message"`
}

// DepositStatus pairs a failed-deposit record with its user-facing line.
type DepositStatus struct {
	Record  retry.Record `json:"record"`
	Message string       `json:"message"`
}

// Deposit pays the wallet's contribution for the current cycle.
//
// A failed transfer or confirmation is registered with the retry
// registry and returned as a TRANSIENT error alongside the result; the
// scheduler takes it from there. A successful deposit resolves any retry
// record for the same cycle.
func (s *Service) Deposit(ctx context.Context, id string) (DepositResult, error) {
	if (tanda.Tanda{ID: id}).IsLocal() {
		return DepositResult{}, notSynced(id)
	}
	wallet := s.wallet.Address()

	callCtx, cancel := s.callContext(ctx)
	t, err := s.ledger.GetTanda(callCtx, id)
	cancel()
	if err != nil {
		return DepositResult{}, err
	}
	if t.Status != tanda.StatusActive {
		return DepositResult{Tanda: t}, &tanda.Error{Code: tanda.CodeConflict, Message: "tanda not active", TandaID: id, Wallet: wallet}
	}
	p, _, ok := t.Participant(wallet)
	if !ok {
		return DepositResult{Tanda: t}, &tanda.Error{Code: tanda.CodeConflict, Message: "not a member", TandaID: id, Wallet: wallet}
	}

	key := retry.Key{TandaID: id, Wallet: wallet, Cycle: t.CurrentCycle}
	if p.HasDeposited {
		s.strategies.settled(ctx, key)
		s.settle(ctx, key)
		return DepositResult{Tanda: t, Message: "deposit confirmed"}, nil
	}

	proof, ok := s.strategies.pending(key)
	if !ok {
		callCtx, cancel := s.callContext(ctx)
		proof, err = s.wallet.Contribute(callCtx, t)
		cancel()
		if err != nil {
			return s.failed(ctx, t, key, err)
		}
		s.strategies.remember(key, proof)
	}

	callCtx, cancel = s.callContext(ctx)
	confirmed, err := s.ledger.ConfirmDeposit(callCtx, id, wallet, proof)
	cancel()
	if err != nil {
		return s.failed(ctx, t, key, fmt.Errorf("confirm deposit: %w", err))
	}
	s.strategies.forget(key)

	s.remember(ctx, confirmed)
	s.strategies.scoreDeposit(ctx, wallet)
	s.settle(ctx, key)
	s.logger.Info("deposit confirmed", "tanda_id", id, "wallet", wallet, "cycle", key.Cycle, "tx", proof.TxHash)
	return DepositResult{Tanda: confirmed, Proof: &proof, Message: "deposit confirmed"}, nil
}

func (s *Service) failed(ctx context.Context, t tanda.Tanda, key retry.Key, cause error) (DepositResult, error) {
	rec, err := s.registry.RecordFailure(ctx, key, cause.Error())
	if err != nil {
		return DepositResult{Tanda: t}, fmt.Errorf("register failed deposit: %w", err)
	}
	s.remind(ctx, t)

	msg := s.registry.Describe(rec, cycle.Deadline(t, s.window))
	s.logger.Info("deposit failed",
		"tanda_id", key.TandaID,
		"wallet", key.Wallet,
		"cycle", key.Cycle,
		"attempt", rec.AttemptCount,
		"status", rec.Status,
		"error", cause,
	)
	return DepositResult{Tanda: t, Record: &rec, Message: msg}, &tanda.Error{
		Code:    tanda.CodeTransient,
		Message: msg,
		TandaID: key.TandaID,
		Wallet:  key.Wallet,
		Err:     cause,
	}
}

// settle marks the retry record for key resolved, if there is one. A
// confirmed deposit is authoritative over any in-flight retry.
func (s *Service) settle(ctx context.Context, key retry.Key) {
	_, err := s.registry.MarkAsResolved(ctx, key)
	switch {
	case err == nil, errors.Is(err, retry.ErrRecordNotFound):
	default:
		s.logger.Warn("resolve retry record", "key", key.String(), "error", err)
	}
}

// ForceRetry runs one retry for key now, outside the scheduler tick.
func (s *Service) ForceRetry(ctx context.Context, key retry.Key) (DepositStatus, error) {
	rec, err := s.registry.ForceRetry(ctx, key)
	if err != nil {
		return DepositStatus{}, err
	}
	return s.describe(ctx, rec), nil
}

// Resolve marks key as paid after a deposit confirmed elsewhere.
func (s *Service) Resolve(ctx context.Context, key retry.Key) (DepositStatus, error) {
	rec, err := s.registry.MarkAsResolved(ctx, key)
	if err != nil {
		return DepositStatus{}, err
	}
	return s.describe(ctx, rec), nil
}

// CancelRetry stops retrying key without expelling anyone.
func (s *Service) CancelRetry(ctx context.Context, key retry.Key) (DepositStatus, error) {
	rec, err := s.registry.Cancel(ctx, key)
	if err != nil {
		return DepositStatus{}, err
	}
	return s.describe(ctx, rec), nil
}

// DepositStatus returns the record for key and its user-facing line.
func (s *Service) DepositStatus(ctx context.Context, key retry.Key) (DepositStatus, error) {
	rec, err := s.registry.Get(ctx, key)
	if err != nil {
		return DepositStatus{}, err
	}
	return s.describe(ctx, rec), nil
}

// DepositStatuses describes every record in the registry.
func (s *Service) DepositStatuses(ctx context.Context) ([]DepositStatus, error) {
	recs, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DepositStatus, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.describe(ctx, rec))
	}
	return out, nil
}

// describe renders rec against the cached tanda so listing never waits on
// the network. Without a cached copy the next retry time stands in for
// the deadline.
func (s *Service) describe(ctx context.Context, rec retry.Record) DepositStatus {
	deadline := rec.NextRetryAt
	if t, ok, err := s.cache.Get(ctx, rec.TandaID); err == nil && ok {
		deadline = cycle.Deadline(t, s.window)
	}
	return DepositStatus{Record: rec, Message: s.registry.Describe(rec, deadline)}
}


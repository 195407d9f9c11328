package orchestrator

import (
	"context"

	"github.com/roach88/tandasync/internal/reconcile"
	"github.com/roach88/tandasync/internal/tanda"
)

// Published maps a provisional tanda to the id the ledger gave it.
type Published struct {
	LocalID string `json:"localId"`
	ID      string `json:"id"`
}

// SyncResult is the outcome of Sync.
type SyncResult struct {
	Published []Published      `json:"published,omitempty"`
	Deferred  int              `json:"deferred"`
	Rejected  int              `json:"rejected"`
	Report    reconcile.Report `json:"report"`
}

// Tandas returns the cached list immediately and starts a background
// refresh. A failed refresh is logged and the cache stays as it was.
func (s *Service) Tandas(ctx context.Context) ([]tanda.Tanda, error) {
	ts, err := s.cache.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.RefreshAsync(context.WithoutCancel(ctx))
	return ts, nil
}

// Sync publishes provisional tandas created offline, then refreshes the
// cache from the ledger. Provisional tandas the ledger rejects or cannot
// take yet stay in the cache.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	local, err := s.cache.Load(ctx)
	if err != nil {
		return res, err
	}
	for _, t := range local {
		if !t.IsLocal() || t.Creator != s.wallet.Address() {
			continue
		}
		if err := s.publish(ctx, t, &res); err != nil {
			return res, err
		}
	}

	_, rep, err := s.cache.Refresh(ctx)
	res.Report = rep
	return res, err
}

func (s *Service) publish(ctx context.Context, t tanda.Tanda, res *SyncResult) error {
	req := tanda.CreateRequest{
		Name:            t.Name,
		Amount:          t.Amount,
		MaxParticipants: t.MaxParticipants,
		Creator:         t.Creator,
	}

	callCtx, cancel := s.callContext(ctx)
	remote, err := s.ledger.CreateTanda(callCtx, req)
	cancel()
	switch {
	case err == nil:
	case unreachable(err):
		res.Deferred++
		s.logger.Info("publish deferred", "tanda_id", t.ID, "error", err)
		return nil
	default:
		res.Rejected++
		s.logger.Warn("publish rejected", "tanda_id", t.ID, "error", err)
		return nil
	}

	if err := s.cache.Remove(ctx, t.ID); err != nil {
		return err
	}
	if err := s.cache.PutLocal(ctx, remote); err != nil {
		return err
	}
	s.created(ctx)
	res.Published = append(res.Published, Published{LocalID: t.ID, ID: remote.ID})
	s.logger.Info("provisional tanda published", "local_id", t.ID, "tanda_id", remote.ID)
	return nil
}

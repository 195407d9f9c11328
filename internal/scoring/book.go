package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/tandasync/internal/clock"
	"github.com/roach88/tandasync/internal/store"
	"github.com/roach88/tandasync/internal/tanda"
)

const keyPrefix = "reputation/"

// Book persists UserReputation records and applies events to them.
// Score changes only ever go through ApplyDelta.
type Book struct {
	kv    store.KV
	clock clock.Clock
	mu    sync.Mutex
}

// NewBook creates a Book over kv.
func NewBook(kv store.KV, clk clock.Clock) *Book {
	return &Book{kv: kv, clock: clk}
}

// Get returns the reputation for wallet, creating the initial record
// (score 50) on first access.
func (b *Book) Get(ctx context.Context, wallet string) (tanda.UserReputation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked(ctx, wallet)
}

// Apply records ev against wallet and returns the updated reputation.
func (b *Book) Apply(ctx context.Context, wallet string, ev Event) (tanda.UserReputation, error) {
	return b.update(ctx, wallet, func(rep *tanda.UserReputation) {
		rep.Score = ApplyDelta(rep.Score, DeltaFor(ev))
		switch ev {
		case EventExpelledForNonpayment:
			rep.ActiveDebt = true
		case EventCompleteTanda:
			rep.CompletedTandas++
		}
	})
}

// RecordJoined counts a tanda the wallet created or joined.
func (b *Book) RecordJoined(ctx context.Context, wallet string) (tanda.UserReputation, error) {
	return b.update(ctx, wallet, func(rep *tanda.UserReputation) {
		rep.TotalTandas++
	})
}

// ClearDebt marks outstanding debt as settled.
func (b *Book) ClearDebt(ctx context.Context, wallet string) (tanda.UserReputation, error) {
	return b.update(ctx, wallet, func(rep *tanda.UserReputation) {
		rep.ActiveDebt = false
	})
}

func (b *Book) update(ctx context.Context, wallet string, mutate func(*tanda.UserReputation)) (tanda.UserReputation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rep, err := b.loadLocked(ctx, wallet)
	if err != nil {
		return tanda.UserReputation{}, err
	}
	mutate(&rep)
	rep.UpdatedAt = b.clock.Now()
	if err := store.PutJSON(ctx, b.kv, keyPrefix+wallet, rep); err != nil {
		return tanda.UserReputation{}, fmt.Errorf("save reputation: %w", err)
	}
	return rep, nil
}

func (b *Book) loadLocked(ctx context.Context, wallet string) (tanda.UserReputation, error) {
	var rep tanda.UserReputation
	err := store.GetJSON(ctx, b.kv, keyPrefix+wallet, &rep)
	if errors.Is(err, store.ErrNotFound) {
		return tanda.NewUserReputation(wallet), nil
	}
	if err != nil {
		return tanda.UserReputation{}, fmt.Errorf("load reputation: %w", err)
	}
	return rep, nil
}

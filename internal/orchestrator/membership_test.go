package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/scoring"
	"github.com/roach88/tandasync/internal/tanda"
)

func TestCreate_Online(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tn, err := f.svc.Create(ctx, tanda.CreateRequest{Name: "  Barrio  Norte ", Amount: ten, MaxParticipants: 3})
	require.NoError(t, err)
	assert.Equal(t, "T1", tn.ID)
	assert.Equal(t, "Barrio Norte", tn.Name)
	assert.Equal(t, me, tn.Creator)
	assert.False(t, tn.IsLocal())

	cached, ok, err := f.svc.Cache().Get(ctx, "T1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tanda.StatusWaiting, cached.Status)

	rep := f.score(t)
	assert.Equal(t, 55, rep.Score)
	assert.Equal(t, 1, rep.TotalTandas)
}

func TestCreate_OfflineKeepsProvisionalUntilSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.SetOffline(errors.New("no network"))
	tn, err := f.svc.Create(ctx, tanda.CreateRequest{Name: "Barrio", Amount: ten, MaxParticipants: 2})
	require.NoError(t, err)
	assert.Equal(t, "local_test-1", tn.ID)
	assert.True(t, tn.IsLocal())
	assert.Equal(t, 50, f.score(t).Score, "not scored before the ledger accepts it")

	_, err = f.svc.Sync(ctx)
	require.Error(t, err)
	ts, err := f.svc.Cache().Load(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "local_test-1", ts[0].ID)

	f.ledger.SetOffline(nil)
	res, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Published{{LocalID: "local_test-1", ID: "T1"}}, res.Published)
	assert.Equal(t, 1, res.Report.Remote)
	assert.Equal(t, 0, res.Report.LocalOnly)

	ts, err = f.svc.Cache().Load(ctx)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "T1", ts[0].ID)
	assert.Equal(t, 55, f.score(t).Score)
}

func TestCreate_RejectsBeforeCallingLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, tanda.CreateRequest{Name: "Barrio", Amount: decimal.Zero, MaxParticipants: 2})
	assert.True(t, tanda.IsValidation(err))

	_, err = f.svc.Create(ctx, tanda.CreateRequest{Name: "Barrio", Amount: ten, MaxParticipants: 13})
	assert.True(t, tanda.IsValidation(err))

	ts, err := f.ledger.GetTandas(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestCreate_BlockedWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 2 {
		_, err := f.svc.book.Apply(ctx, me, scoring.EventExpelledForNonpayment)
		require.NoError(t, err)
	}

	_, err := f.svc.Create(ctx, tanda.CreateRequest{Name: "Barrio", Amount: ten, MaxParticipants: 2})
	require.Error(t, err)
	assert.True(t, tanda.IsValidation(err))
	assert.Contains(t, err.Error(), "reputation 0 is below 25")
}

func TestJoin_ProvisionalTanda(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Join(context.Background(), "local_test-9")
	assert.True(t, tanda.IsValidation(err))
}

func TestLeave_CancelsRetriesAndReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.start(t, "GTHIRD")

	_, err := f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)
	require.NotEmpty(t, f.notifier.Pending(tn.ID))

	require.NoError(t, f.svc.Leave(ctx, tn.ID))

	rec, err := f.svc.Registry().Get(ctx, retry.Key{TandaID: tn.ID, Wallet: me, Cycle: 1})
	require.NoError(t, err)
	assert.Equal(t, retry.StatusUserExpelled, rec.Status)
	assert.Empty(t, f.notifier.Pending(tn.ID))

	_, ok := f.member(t, tn.ID, me)
	assert.False(t, ok)
	_, cached, err := f.svc.Cache().Get(ctx, tn.ID)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 50, f.score(t).Score, "leaving is not a penalty")
}

func TestLeave_ProvisionalTanda(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.SetOffline(errors.New("no network"))
	tn, err := f.svc.Create(ctx, tanda.CreateRequest{Name: "Barrio", Amount: ten, MaxParticipants: 2})
	require.NoError(t, err)

	require.NoError(t, f.svc.Leave(ctx, tn.ID))
	ts, err := f.svc.Cache().Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, ts)
}

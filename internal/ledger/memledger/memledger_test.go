package memledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/tanda"
	"github.com/roach88/tandasync/internal/testutil"
)

const day = 24 * time.Hour

func startedTanda(t *testing.T, l *Ledger, wallets ...string) tanda.Tanda {
	t.Helper()
	ctx := context.Background()
	tn, err := l.CreateTanda(ctx, tanda.CreateRequest{
		Name:            "Barrio",
		Amount:          decimal.NewFromInt(10),
		MaxParticipants: len(wallets),
		Creator:         wallets[0],
	})
	require.NoError(t, err)
	for _, w := range wallets[1:] {
		_, err := l.JoinTanda(ctx, tn.ID, w)
		require.NoError(t, err)
	}
	tn, err = l.StartTanda(ctx, tn.ID, wallets[0])
	require.NoError(t, err)
	return tn
}

func deposit(t *testing.T, l *Ledger, id, wallet string) {
	t.Helper()
	_, err := l.ConfirmDeposit(context.Background(), id, wallet, ledger.Proof{Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
}

func TestCreateAndJoin(t *testing.T) {
	l := New(testutil.NewFakeClock(time.Time{}), 0)
	ctx := context.Background()

	tn, err := l.CreateTanda(ctx, tanda.CreateRequest{Name: " Barrio ", Amount: decimal.NewFromInt(10), MaxParticipants: 2, Creator: "GA"})
	require.NoError(t, err)
	assert.Equal(t, "T1", tn.ID)
	assert.Equal(t, "Barrio", tn.Name)
	assert.Equal(t, tanda.StatusWaiting, tn.Status)
	require.Len(t, tn.Participants, 1)

	_, err = l.JoinTanda(ctx, tn.ID, "GA")
	assert.True(t, tanda.IsConflict(err), "already a member")

	_, err = l.JoinTanda(ctx, tn.ID, "GB")
	require.NoError(t, err)
	_, err = l.JoinTanda(ctx, tn.ID, "GC")
	assert.True(t, tanda.IsConflict(err), "full")

	_, err = l.StartTanda(ctx, tn.ID, "GB")
	assert.True(t, tanda.IsConflict(err), "only creator")

	tn, err = l.StartTanda(ctx, tn.ID, "GA")
	require.NoError(t, err)
	assert.Equal(t, tanda.StatusActive, tn.Status)
	assert.Equal(t, 1, tn.CurrentCycle)
	assert.Equal(t, 2, tn.TotalCycles)
	require.NoError(t, tn.Validate())
}

func TestCreate_Validation(t *testing.T) {
	l := New(testutil.NewFakeClock(time.Time{}), 0)
	_, err := l.CreateTanda(context.Background(), tanda.CreateRequest{Name: "x", Amount: decimal.NewFromInt(10), MaxParticipants: 13, Creator: "GA"})
	assert.True(t, tanda.IsValidation(err))
}

func TestGetTanda_NotFound(t *testing.T) {
	l := New(testutil.NewFakeClock(time.Time{}), 0)
	_, err := l.GetTanda(context.Background(), "nope")
	assert.True(t, tanda.IsNotFound(err))
}

func TestAdvance_PayoutWhenAllDeposited(t *testing.T) {
	clk := testutil.NewFakeClock(time.Time{})
	l := New(clk, 0)
	ctx := context.Background()
	tn := startedTanda(t, l, "GA", "GB", "GC")
	ga := l.Wallet("GA")

	deposit(t, l, tn.ID, "GA")
	deposit(t, l, tn.ID, "GB")
	deposit(t, l, tn.ID, "GC")

	clk.Advance(day)
	res, err := l.Advance(ctx, tn.ID)
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, "GA", res.PaidTo)
	assert.Equal(t, "30", res.Payout.String())
	assert.Equal(t, "30", ga.Balance().String())
	assert.Equal(t, 2, res.Tanda.CurrentCycle)
	assert.True(t, res.Tanda.Participants[0].HasWithdrawn)
	for _, p := range res.Tanda.Participants {
		assert.False(t, p.HasDeposited)
	}
	assert.True(t, clk.Now().Equal(res.Tanda.LastPayoutAt))
}

func TestAdvance_NothingToDo(t *testing.T) {
	clk := testutil.NewFakeClock(time.Time{})
	l := New(clk, 0)
	tn := startedTanda(t, l, "GA", "GB")
	deposit(t, l, tn.ID, "GA")

	clk.Advance(5 * day)
	res, err := l.Advance(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Equal(t, 1, res.Tanda.CurrentCycle)
}

func TestAdvance_ExpelsThenPays(t *testing.T) {
	clk := testutil.NewFakeClock(time.Time{})
	l := New(clk, 0)
	tn := startedTanda(t, l, "GA", "GB", "GC")
	deposit(t, l, tn.ID, "GA")
	deposit(t, l, tn.ID, "GB")

	clk.Advance(7 * day)
	res, err := l.Advance(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"GC"}, res.Expelled)
	assert.Equal(t, "GA", res.PaidTo)
	assert.Equal(t, "20", res.Payout.String())
	assert.Len(t, res.Tanda.Participants, 2)
	assert.Equal(t, 2, res.Tanda.TotalCycles)
	require.NoError(t, res.Tanda.Validate())
}

func TestAdvance_ExpelLeavingOneCompletes(t *testing.T) {
	clk := testutil.NewFakeClock(time.Time{})
	l := New(clk, 0)
	tn := startedTanda(t, l, "GA", "GB")
	deposit(t, l, tn.ID, "GA")

	clk.Advance(6 * day)
	res, err := l.Advance(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"GB"}, res.Expelled)
	assert.Equal(t, tanda.StatusCompleted, res.Tanda.Status)
	assert.Empty(t, res.PaidTo)
}

func TestAdvance_FullRunCompletes(t *testing.T) {
	clk := testutil.NewFakeClock(time.Time{})
	l := New(clk, 0)
	ctx := context.Background()
	tn := startedTanda(t, l, "GA", "GB")

	var paid []string
	for tn.Status == tanda.StatusActive {
		deposit(t, l, tn.ID, "GA")
		deposit(t, l, tn.ID, "GB")
		clk.Advance(day)
		res, err := l.Advance(ctx, tn.ID)
		require.NoError(t, err)
		paid = append(paid, res.PaidTo)
		tn = res.Tanda
	}
	assert.Equal(t, []string{"GA", "GB"}, paid)
	assert.Equal(t, tanda.StatusCompleted, tn.Status)
	require.NoError(t, tn.Validate())
}

func TestConfirmDeposit_Rules(t *testing.T) {
	l := New(testutil.NewFakeClock(time.Time{}), 0)
	ctx := context.Background()
	tn := startedTanda(t, l, "GA", "GB")

	_, err := l.ConfirmDeposit(ctx, tn.ID, "GA", ledger.Proof{Amount: decimal.NewFromInt(3)})
	assert.True(t, tanda.IsValidation(err))

	deposit(t, l, tn.ID, "GA")
	_, err = l.ConfirmDeposit(ctx, tn.ID, "GA", ledger.Proof{Amount: decimal.NewFromInt(10)})
	assert.True(t, tanda.IsConflict(err))

	_, err = l.ConfirmDeposit(ctx, tn.ID, "GZ", ledger.Proof{Amount: decimal.NewFromInt(10)})
	assert.True(t, tanda.IsConflict(err))
}

func TestLeaveTanda(t *testing.T) {
	l := New(testutil.NewFakeClock(time.Time{}), 0)
	ctx := context.Background()

	tn, err := l.CreateTanda(ctx, tanda.CreateRequest{Name: "x", Amount: decimal.NewFromInt(10), MaxParticipants: 3, Creator: "GA"})
	require.NoError(t, err)
	_, err = l.JoinTanda(ctx, tn.ID, "GB")
	require.NoError(t, err)

	require.NoError(t, l.LeaveTanda(ctx, tn.ID, "GB"))
	assert.True(t, tanda.IsConflict(l.LeaveTanda(ctx, tn.ID, "GA")), "creator stays while forming")

	active := startedTanda(t, l, "GA", "GB", "GC")
	require.NoError(t, l.LeaveTanda(ctx, active.ID, "GC"))
	got, err := l.GetTanda(ctx, active.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 2)
	assert.Equal(t, 2, got.TotalCycles)
	assert.True(t, tanda.IsConflict(l.LeaveTanda(ctx, active.ID, "GC")))
}

func TestCancelTanda(t *testing.T) {
	l := New(testutil.NewFakeClock(time.Time{}), 0)
	ctx := context.Background()
	tn, err := l.CreateTanda(ctx, tanda.CreateRequest{Name: "x", Amount: decimal.NewFromInt(10), MaxParticipants: 3, Creator: "GA"})
	require.NoError(t, err)

	tn, err = l.CancelTanda(ctx, tn.ID, "GA")
	require.NoError(t, err)
	assert.Equal(t, tanda.StatusCancelled, tn.Status)
}

func TestOffline(t *testing.T) {
	l := New(testutil.NewFakeClock(time.Time{}), 0)
	l.SetOffline(errors.New("no route"))

	_, err := l.GetTandas(context.Background(), ledger.Filter{})
	assert.True(t, tanda.IsTransient(err))

	l.SetOffline(nil)
	ts, err := l.GetTandas(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestWallet_Contribute(t *testing.T) {
	l := New(testutil.NewFakeClock(time.Time{}), 0)
	w := l.Wallet("GA")
	tn := tanda.Tanda{ID: "T1", Amount: decimal.NewFromInt(10)}

	_, err := w.Contribute(context.Background(), tn)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	w.Fund(decimal.NewFromInt(15))
	proof, err := w.Contribute(context.Background(), tn)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", proof.TxHash)
	assert.Equal(t, "5", w.Balance().String())
	assert.Same(t, w, l.Wallet("GA"))
}

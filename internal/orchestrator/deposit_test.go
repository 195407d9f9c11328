package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/ledger/memledger"
	"github.com/roach88/tandasync/internal/retry"
	"github.com/roach88/tandasync/internal/scoring"
	"github.com/roach88/tandasync/internal/store"
	"github.com/roach88/tandasync/internal/tanda"
	"github.com/roach88/tandasync/internal/testutil"
)

func TestDeposit_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.start(t)
	f.wallet.Fund(ten)

	res, err := f.svc.Deposit(ctx, tn.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Proof)
	assert.Nil(t, res.Record)
	assert.Equal(t, "deposit confirmed", res.Message)

	p, ok := f.member(t, tn.ID, me)
	require.True(t, ok)
	assert.True(t, p.HasDeposited)
	assert.True(t, f.wallet.Balance().IsZero())
	assert.Equal(t, 55, f.score(t).Score)

	_, err = f.svc.Registry().Get(ctx, retry.Key{TandaID: tn.ID, Wallet: me, Cycle: 1})
	assert.ErrorIs(t, err, retry.ErrRecordNotFound)

	again, err := f.svc.Deposit(ctx, tn.ID)
	require.NoError(t, err)
	assert.Nil(t, again.Proof, "second deposit moves no funds")
	assert.Equal(t, 55, f.score(t).Score)
}

func TestDeposit_FailureRegistersRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.start(t)
	start := f.clock.Now()

	res, err := f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)
	assert.True(t, tanda.IsTransient(err))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	require.NotNil(t, res.Record)
	assert.Equal(t, retry.StatusPendingRetry, res.Record.Status)
	assert.Equal(t, 1, res.Record.AttemptCount)
	assert.True(t, start.Add(24*time.Hour).Equal(res.Record.NextRetryAt))
	assert.Equal(t, "insufficient balance, 6 days remaining, attempt 1/7", res.Message)

	reminders := f.notifier.Pending(tn.ID)
	require.Len(t, reminders, 1)
	assert.True(t, start.Add(6*day).Equal(reminders[0].DueAt))
	assert.Equal(t, me, reminders[0].Reminder.Wallet)

	f.clock.Advance(2 * day)
	res, err = f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)
	assert.Equal(t, 2, res.Record.AttemptCount)
	assert.Equal(t, "insufficient balance, 4 days remaining, attempt 2/7", res.Message)
}

func TestDeposit_FailThenForceRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.start(t)
	key := retry.Key{TandaID: tn.ID, Wallet: me, Cycle: 1}

	_, err := f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)

	f.wallet.Fund(ten)
	st, err := f.svc.ForceRetry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, retry.StatusResolved, st.Record.Status)
	assert.Equal(t, 2, st.Record.AttemptCount)
	assert.Equal(t, "deposit confirmed", st.Message)

	p, _ := f.member(t, tn.ID, me)
	assert.True(t, p.HasDeposited)

	rep := f.score(t)
	assert.Equal(t, 55, rep.Score, "deposit credited, no penalty")
	assert.False(t, rep.ActiveDebt)

	_, err = f.svc.ForceRetry(ctx, key)
	assert.True(t, tanda.IsConflict(err), "resolved records are not retried")
}

// flakyConfirm loses the next n confirmations after the funds moved.
type flakyConfirm struct {
	*memledger.Ledger
	lose atomic.Int32
}

func (l *flakyConfirm) ConfirmDeposit(ctx context.Context, id, wallet string, proof ledger.Proof) (tanda.Tanda, error) {
	if l.lose.Add(-1) >= 0 {
		return tanda.Tanda{}, tanda.NewTransientError("confirm deposit", errors.New("connection reset"))
	}
	return l.Ledger.ConfirmDeposit(ctx, id, wallet, proof)
}

func TestDeposit_LostConfirmationIsNotPaidTwice(t *testing.T) {
	var flaky *flakyConfirm
	f := newFixtureWith(t, func(l *memledger.Ledger) ledger.Ledger {
		flaky = &flakyConfirm{Ledger: l}
		return flaky
	})
	ctx := context.Background()
	tn := f.start(t)
	f.wallet.Fund(ten.Add(ten))
	flaky.lose.Store(1)

	_, err := f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)
	assert.True(t, f.wallet.Balance().Equal(ten), "debited once")

	st, err := f.svc.ForceRetry(ctx, retry.Key{TandaID: tn.ID, Wallet: me, Cycle: 1})
	require.NoError(t, err)
	assert.Equal(t, retry.StatusResolved, st.Record.Status)
	assert.True(t, f.wallet.Balance().Equal(ten), "retry reuses the first transfer")

	p, _ := f.member(t, tn.ID, me)
	assert.True(t, p.HasDeposited)
}

func TestDeposit_NotActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn, err := f.svc.Create(ctx, tanda.CreateRequest{Name: "Barrio", Amount: ten, MaxParticipants: 2})
	require.NoError(t, err)

	_, err = f.svc.Deposit(ctx, tn.ID)
	assert.True(t, tanda.IsConflict(err))

	recs, err := f.svc.Registry().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// Seven failures a retry interval apart: the record ends expelled, the
// penalty lands exactly once and later ticks leave it alone.
func TestRetry_SevenFailuresExpel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.start(t, "GTHIRD")
	key := retry.Key{TandaID: tn.ID, Wallet: me, Cycle: 1}
	sched := retry.NewScheduler(f.svc.Registry(), f.clock, time.Hour, nil)

	_, err := f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)

	for attempt := 2; attempt <= 7; attempt++ {
		f.clock.Advance(24 * time.Hour)
		res, err := sched.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, res.Processed, "attempt %d", attempt)

		rec, err := f.svc.Registry().Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, attempt, rec.AttemptCount)
		if attempt < 7 {
			assert.Equal(t, retry.StatusPendingRetry, rec.Status)
		}
	}

	st, err := f.svc.DepositStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, retry.StatusUserExpelled, st.Record.Status)
	assert.Equal(t, 7, st.Record.AttemptCount)
	assert.Equal(t, "expelled, -25 score", st.Message)

	rep := f.score(t)
	assert.Equal(t, 25, rep.Score)
	assert.True(t, rep.ActiveDebt)

	_, member := f.member(t, tn.ID, me)
	assert.False(t, member, "ledger removed the member")
	assert.Empty(t, f.notifier.Pending(tn.ID))

	f.clock.Advance(24 * time.Hour)
	res, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 25, f.score(t).Score)
}

func TestDepositStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.start(t)

	_, err := f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)
	f.clock.Advance(day + time.Hour)

	sts, err := f.svc.DepositStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, sts, 1)
	assert.Equal(t, "insufficient balance, 5 days remaining, attempt 1/7", sts[0].Message)

	st, err := f.svc.CancelRetry(ctx, sts[0].Record.Key)
	require.NoError(t, err)
	assert.Equal(t, "retries cancelled", st.Message)
}

// A service built with no options bounds ledger calls with the default
// timeout instead of an already expired one.
func TestNew_DefaultsAllowLedgerCalls(t *testing.T) {
	clk := testutil.NewFakeClock(time.Time{})
	l := memledger.New(clk, 0)
	w := l.Wallet(me)
	svc := New(l, w, store.NewMemory(), clk)
	t.Cleanup(svc.Cache().Wait)
	ctx := context.Background()

	assert.Equal(t, retry.DefaultPolicy().CallTimeout, svc.Registry().Policy().CallTimeout)

	tn, err := l.CreateTanda(ctx, tanda.CreateRequest{Name: "Barrio", Amount: ten, MaxParticipants: 2, Creator: creator})
	require.NoError(t, err)
	_, err = svc.Join(ctx, tn.ID)
	require.NoError(t, err)
	_, err = l.StartTanda(ctx, tn.ID, creator)
	require.NoError(t, err)
	w.Fund(ten)

	res, err := svc.Deposit(ctx, tn.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Proof)
	assert.Equal(t, "deposit confirmed", res.Message)
}

// lostReply applies the next n confirmations but reports them failed, as
// when the response never makes it back.
type lostReply struct {
	*memledger.Ledger
	lose atomic.Int32
}

func (l *lostReply) ConfirmDeposit(ctx context.Context, id, wallet string, proof ledger.Proof) (tanda.Tanda, error) {
	t, err := l.Ledger.ConfirmDeposit(ctx, id, wallet, proof)
	if err == nil && l.lose.Add(-1) >= 0 {
		return tanda.Tanda{}, tanda.NewTransientError("confirm deposit", errors.New("connection reset"))
	}
	return t, err
}

// The confirmation is lost and another member's device pays the cycle
// out. The retry finds the wallet still in the tanda past that cycle and
// resolves the record instead of counting attempts toward expulsion.
func TestRetry_ClosedCycleAfterLostConfirmationResolves(t *testing.T) {
	var lost *lostReply
	f := newFixtureWith(t, func(l *memledger.Ledger) ledger.Ledger {
		lost = &lostReply{Ledger: l}
		return lost
	})
	ctx := context.Background()
	tn := f.start(t)
	key := retry.Key{TandaID: tn.ID, Wallet: me, Cycle: 1}
	sched := retry.NewScheduler(f.svc.Registry(), f.clock, time.Hour, nil)
	f.wallet.Fund(ten)
	lost.lose.Store(1)

	res, err := f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)
	assert.Equal(t, "confirmation pending, 6 days remaining, attempt 1/7", res.Message)

	f.payAs(t, tn.ID, creator)
	adv, err := f.ledger.Advance(ctx, tn.ID)
	require.NoError(t, err)
	require.Equal(t, creator, adv.PaidTo)
	require.Equal(t, 2, adv.Tanda.CurrentCycle)

	for range 7 {
		f.clock.Advance(day)
		_, err := sched.Tick(ctx)
		require.NoError(t, err)
	}

	rec, err := f.svc.Registry().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, retry.StatusResolved, rec.Status)
	assert.Equal(t, 2, rec.AttemptCount)

	rep := f.score(t)
	assert.Equal(t, 55, rep.Score, "deposit credited once, no penalty")
	assert.False(t, rep.ActiveDebt)
	_, member := f.member(t, tn.ID, me)
	assert.True(t, member)
}

func TestRetry_FormerMemberIsCancelledWithoutPenalty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.start(t, "GTHIRD")
	key := retry.Key{TandaID: tn.ID, Wallet: me, Cycle: 1}

	_, err := f.svc.Deposit(ctx, tn.ID)
	require.Error(t, err)
	require.NoError(t, f.ledger.LeaveTanda(ctx, tn.ID, me))

	f.clock.Advance(day)
	st, err := f.svc.ForceRetry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, retry.StatusUserExpelled, st.Record.Status)
	assert.Equal(t, 1, st.Record.AttemptCount)
	assert.Equal(t, "retries cancelled", st.Message)

	rep := f.score(t)
	assert.Equal(t, 50, rep.Score)
	assert.False(t, rep.ActiveDebt)
}

func TestDeposit_ClearsDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.book.Apply(ctx, me, scoring.EventExpelledForNonpayment)
	require.NoError(t, err)
	require.True(t, f.score(t).ActiveDebt)

	tn := f.start(t)
	f.wallet.Fund(ten)
	_, err = f.svc.Deposit(ctx, tn.ID)
	require.NoError(t, err)

	rep := f.score(t)
	assert.Equal(t, 30, rep.Score)
	assert.False(t, rep.ActiveDebt)
}

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/ledger/memledger"
	"github.com/roach88/tandasync/internal/store"
	"github.com/roach88/tandasync/internal/tanda"
	"github.com/roach88/tandasync/internal/testutil"
)

const (
	me      = "GME"
	creator = "GCREATOR"
	day     = 24 * time.Hour
)

var ten = decimal.NewFromInt(10)

type fixture struct {
	clock    *testutil.FakeClock
	ledger   *memledger.Ledger
	wallet   *memledger.Wallet
	notifier *ledger.MemoryNotifier
	kv       *store.Memory
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, func(l *memledger.Ledger) ledger.Ledger { return l })
}

// newFixtureWith lets a test put a wrapper between the service and the
// in-memory ledger.
func newFixtureWith(t *testing.T, wrap func(*memledger.Ledger) ledger.Ledger) *fixture {
	t.Helper()
	clk := testutil.NewFakeClock(time.Time{})
	l := memledger.New(clk, 0)
	f := &fixture{
		clock:    clk,
		ledger:   l,
		wallet:   l.Wallet(me),
		notifier: ledger.NewMemoryNotifier(),
		kv:       store.NewMemory(),
	}
	f.svc = New(wrap(l), f.wallet, f.kv, clk,
		WithNotifier(f.notifier),
		WithIDGenerator(testutil.NewFixedIDGenerator("")),
	)
	t.Cleanup(f.svc.Cache().Wait)
	return f
}

// start opens a tanda created by creator, joined by the service's wallet
// and then by others, and starts it.
func (f *fixture) start(t *testing.T, others ...string) tanda.Tanda {
	t.Helper()
	ctx := context.Background()
	tn, err := f.ledger.CreateTanda(ctx, tanda.CreateRequest{
		Name:            "Barrio",
		Amount:          ten,
		MaxParticipants: 2 + len(others),
		Creator:         creator,
	})
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, tn.ID)
	require.NoError(t, err)
	for _, w := range others {
		_, err := f.ledger.JoinTanda(ctx, tn.ID, w)
		require.NoError(t, err)
	}
	tn, err = f.ledger.StartTanda(ctx, tn.ID, creator)
	require.NoError(t, err)
	return tn
}

// payAs deposits on behalf of another member.
func (f *fixture) payAs(t *testing.T, id, wallet string) {
	t.Helper()
	ctx := context.Background()
	w := f.ledger.Wallet(wallet)
	w.Fund(ten)
	tn, err := f.ledger.GetTanda(ctx, id)
	require.NoError(t, err)
	proof, err := w.Contribute(ctx, tn)
	require.NoError(t, err)
	_, err = f.ledger.ConfirmDeposit(ctx, id, wallet, proof)
	require.NoError(t, err)
}

func (f *fixture) score(t *testing.T) tanda.UserReputation {
	t.Helper()
	rep, err := f.svc.Reputation(context.Background())
	require.NoError(t, err)
	return rep
}

func (f *fixture) member(t *testing.T, id, wallet string) (tanda.Participant, bool) {
	t.Helper()
	tn, err := f.ledger.GetTanda(context.Background(), id)
	require.NoError(t, err)
	p, _, ok := tn.Participant(wallet)
	return p, ok
}

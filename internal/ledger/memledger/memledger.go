// Package memledger is an in-memory Ledger that follows the on-chain
// contract's rules: creator-started tandas, one deposit per member per
// cycle, and an advance that expels delinquents once the window has
// passed and pays out when every remaining member has deposited.
//
// It backs the scenario harness, the simulate command and tests.
package memledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tandasync/internal/clock"
	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/tanda"
)

// DefaultDelinquencyWindow matches the contract constant.
const DefaultDelinquencyWindow = 6 * 24 * time.Hour

type memberStatus int

const (
	memberActive memberStatus = iota
	memberReceived
	memberExpelled
)

type member struct {
	wallet    string
	joinedAt  time.Time
	deposited bool
	status    memberStatus
}

type entry struct {
	t       tanda.Tanda
	members []member
}

// Ledger is the in-memory contract.
//
// Thread-safety: safe for concurrent use.
type Ledger struct {
	clock  clock.Clock
	window time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	wallets map[string]*Wallet
	offline error
	seq     int
	tx      int
}

var _ ledger.Ledger = (*Ledger)(nil)

// New creates an empty ledger. A zero window uses DefaultDelinquencyWindow.
func New(clk clock.Clock, window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultDelinquencyWindow
	}
	return &Ledger{
		clock:   clk,
		window:  window,
		entries: make(map[string]*entry),
		wallets: make(map[string]*Wallet),
	}
}

// SetOffline makes every call fail with a TRANSIENT error wrapping err.
// A nil err brings the ledger back.
func (l *Ledger) SetOffline(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = err
}

// CreateTanda implements ledger.Ledger.
func (l *Ledger) CreateTanda(ctx context.Context, req tanda.CreateRequest) (tanda.Tanda, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return tanda.Tanda{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.reachable("create tanda"); err != nil {
		return tanda.Tanda{}, err
	}

	l.seq++
	id := fmt.Sprintf("T%d", l.seq)
	now := l.clock.Now()
	e := &entry{
		t: tanda.Tanda{
			ID:              id,
			Name:            req.Name,
			Creator:         req.Creator,
			Amount:          req.Amount,
			MaxParticipants: req.MaxParticipants,
			TotalCycles:     req.MaxParticipants,
			Status:          tanda.StatusWaiting,
			CreatedAt:       now,
			LastPayoutAt:    now,
		},
		members: []member{{wallet: req.Creator, joinedAt: now}},
	}
	l.entries[id] = e
	l.order = append(l.order, id)
	return e.render(), nil
}

// JoinTanda implements ledger.Ledger.
func (l *Ledger) JoinTanda(ctx context.Context, id, wallet string) (tanda.Tanda, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup("join tanda", id)
	if err != nil {
		return tanda.Tanda{}, err
	}
	if e.t.Status != tanda.StatusWaiting {
		return tanda.Tanda{}, rejected(id, wallet, "tanda not accepting members")
	}
	if len(e.members) >= e.t.MaxParticipants {
		return tanda.Tanda{}, rejected(id, wallet, "tanda is full")
	}
	if e.index(wallet) >= 0 {
		return tanda.Tanda{}, rejected(id, wallet, "already a member")
	}
	e.members = append(e.members, member{wallet: wallet, joinedAt: l.clock.Now()})
	return e.render(), nil
}

// StartTanda implements ledger.Ledger.
func (l *Ledger) StartTanda(ctx context.Context, id, wallet string) (tanda.Tanda, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup("start tanda", id)
	if err != nil {
		return tanda.Tanda{}, err
	}
	if e.t.Creator != wallet {
		return tanda.Tanda{}, rejected(id, wallet, "only creator can start")
	}
	if e.t.Status != tanda.StatusWaiting {
		return tanda.Tanda{}, rejected(id, wallet, "tanda not in forming state")
	}
	if len(e.members) < tanda.MinParticipants {
		return tanda.Tanda{}, rejected(id, wallet, "need at least 2 members")
	}
	e.t.Status = tanda.StatusActive
	e.t.CurrentCycle = 1
	e.t.TotalCycles = len(e.members)
	e.t.LastPayoutAt = l.clock.Now()
	return e.render(), nil
}

// CancelTanda cancels a forming tanda. Only the creator may call it.
func (l *Ledger) CancelTanda(ctx context.Context, id, wallet string) (tanda.Tanda, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup("cancel tanda", id)
	if err != nil {
		return tanda.Tanda{}, err
	}
	if e.t.Creator != wallet {
		return tanda.Tanda{}, rejected(id, wallet, "only creator can cancel")
	}
	if e.t.Status != tanda.StatusWaiting {
		return tanda.Tanda{}, rejected(id, wallet, "can only cancel while forming")
	}
	e.t.Status = tanda.StatusCancelled
	return e.render(), nil
}

// GetTanda implements ledger.Ledger.
func (l *Ledger) GetTanda(ctx context.Context, id string) (tanda.Tanda, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup("get tanda", id)
	if err != nil {
		return tanda.Tanda{}, err
	}
	return e.render(), nil
}

// GetTandas implements ledger.Ledger. Results are in creation order.
func (l *Ledger) GetTandas(ctx context.Context, filter ledger.Filter) ([]tanda.Tanda, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.reachable("get tandas"); err != nil {
		return nil, err
	}

	out := []tanda.Tanda{}
	for _, id := range l.order {
		t := l.entries[id].render()
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ConfirmDeposit implements ledger.Ledger.
func (l *Ledger) ConfirmDeposit(ctx context.Context, id, wallet string, proof ledger.Proof) (tanda.Tanda, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup("confirm deposit", id)
	if err != nil {
		return tanda.Tanda{}, err
	}
	if e.t.Status != tanda.StatusActive {
		return tanda.Tanda{}, rejected(id, wallet, "tanda not active")
	}
	i := e.index(wallet)
	if i < 0 {
		return tanda.Tanda{}, rejected(id, wallet, "not a member")
	}
	m := &e.members[i]
	if m.status == memberExpelled {
		return tanda.Tanda{}, rejected(id, wallet, "member was expelled")
	}
	if m.deposited {
		return tanda.Tanda{}, rejected(id, wallet, "already deposited this cycle")
	}
	if !proof.Amount.Equal(e.t.Amount) {
		return tanda.Tanda{}, &tanda.Error{
			Code:    tanda.CodeValidation,
			Message: fmt.Sprintf("deposit %s does not match amount %s", proof.Amount, e.t.Amount),
			TandaID: id,
			Wallet:  wallet,
		}
	}
	m.deposited = true
	return e.render(), nil
}

// Advance implements ledger.Ledger.
//
// Once the window has passed (inclusive, as on chain) every member who
// has not deposited is expelled. Then, with more than one member left and
// all of them deposited, the beneficiary is paid amount × members and the
// cycle moves on.
func (l *Ledger) Advance(ctx context.Context, id string) (ledger.AdvanceResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup("advance", id)
	if err != nil {
		return ledger.AdvanceResult{}, err
	}
	if e.t.Status != tanda.StatusActive {
		return ledger.AdvanceResult{}, rejected(id, "", "tanda not active")
	}

	now := l.clock.Now()
	res := ledger.AdvanceResult{Payout: decimal.Zero}

	if !now.Before(e.t.LastPayout().Add(l.window)) {
		for i := range e.members {
			m := &e.members[i]
			if m.status == memberExpelled || m.deposited {
				continue
			}
			if m.status != memberReceived {
				e.t.TotalCycles--
			}
			m.status = memberExpelled
			res.Expelled = append(res.Expelled, m.wallet)
		}
	}

	remaining := e.remaining()
	if len(remaining) <= 1 || e.t.CurrentCycle > e.t.TotalCycles {
		e.t.Status = tanda.StatusCompleted
		e.t.CurrentCycle = min(e.t.CurrentCycle, e.t.TotalCycles)
		res.Tanda = e.render()
		res.Advanced = len(res.Expelled) > 0
		return res, nil
	}

	for _, m := range remaining {
		if !m.deposited {
			res.Tanda = e.render()
			res.Advanced = len(res.Expelled) > 0
			return res, nil
		}
	}

	pos := e.t.CurrentCycle - 1
	if pos < 0 || pos >= len(remaining) || remaining[pos].status != memberActive {
		return ledger.AdvanceResult{}, &tanda.Error{
			Code:    tanda.CodeInvariant,
			Message: "beneficiary not found",
			TandaID: id,
		}
	}
	recipient := remaining[pos].wallet
	payout := e.t.Amount.Mul(decimal.NewFromInt(int64(len(remaining))))

	for i := range e.members {
		m := &e.members[i]
		if m.wallet == recipient {
			m.status = memberReceived
		}
		m.deposited = false
	}
	if w, ok := l.wallets[recipient]; ok {
		w.credit(payout)
	}

	e.t.CurrentCycle++
	e.t.LastPayoutAt = now
	if e.t.CurrentCycle > e.t.TotalCycles {
		e.t.Status = tanda.StatusCompleted
		e.t.CurrentCycle = e.t.TotalCycles
	}

	res.PaidTo = recipient
	res.Payout = payout
	res.Advanced = true
	res.Tanda = e.render()
	return res, nil
}

// LeaveTanda implements ledger.Ledger. A forming tanda drops the member;
// an active one marks the member expelled, as the contract does.
func (l *Ledger) LeaveTanda(ctx context.Context, id, wallet string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.lookup("leave tanda", id)
	if err != nil {
		return err
	}
	i := e.index(wallet)
	if i < 0 || e.members[i].status == memberExpelled {
		return rejected(id, wallet, "not a member")
	}

	switch e.t.Status {
	case tanda.StatusWaiting:
		if wallet == e.t.Creator {
			return rejected(id, wallet, "creator cannot leave a forming tanda")
		}
		e.members = append(e.members[:i], e.members[i+1:]...)
	case tanda.StatusActive:
		if e.members[i].status != memberReceived {
			e.t.TotalCycles--
		}
		e.members[i].status = memberExpelled
		if len(e.remaining()) <= 1 || e.t.CurrentCycle > e.t.TotalCycles {
			e.t.Status = tanda.StatusCompleted
			e.t.CurrentCycle = min(e.t.CurrentCycle, e.t.TotalCycles)
		}
	default:
		return rejected(id, wallet, "tanda already finished")
	}
	return nil
}

func (l *Ledger) reachable(op string) error {
	if l.offline != nil {
		return tanda.NewTransientError(op, l.offline)
	}
	return nil
}

func (l *Ledger) lookup(op, id string) (*entry, error) {
	if err := l.reachable(op); err != nil {
		return nil, err
	}
	e, ok := l.entries[id]
	if !ok {
		return nil, tanda.NewNotFoundError(id)
	}
	return e, nil
}

func rejected(id, wallet, msg string) error {
	return &tanda.Error{Code: tanda.CodeConflict, Message: msg, TandaID: id, Wallet: wallet}
}

func (e *entry) index(wallet string) int {
	for i, m := range e.members {
		if m.wallet == wallet {
			return i
		}
	}
	return -1
}

func (e *entry) remaining() []member {
	var out []member
	for _, m := range e.members {
		if m.status != memberExpelled {
			out = append(out, m)
		}
	}
	return out
}

// render builds the client view: expelled members are omitted and
// positions are the order of the remaining members.
func (e *entry) render() tanda.Tanda {
	t := e.t.Clone()
	t.Participants = nil
	t.BeneficiaryOrder = nil
	for _, m := range e.remaining() {
		t.BeneficiaryOrder = append(t.BeneficiaryOrder, len(t.Participants))
		t.Participants = append(t.Participants, tanda.Participant{
			Wallet:       m.wallet,
			JoinedAt:     m.joinedAt,
			HasDeposited: m.deposited,
			HasWithdrawn: m.status == memberReceived,
		})
	}
	return t
}

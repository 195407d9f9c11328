// Package ledger declares the external collaborators of the engine: the
// authoritative tanda ledger, the user's wallet, and the reminder
// scheduler. The engine only decides when to call them.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tandasync/internal/tanda"
)

// ErrInsufficientFunds is returned by Wallet.Contribute when the balance
// does not cover the contribution. Callers treat it as transient.
var ErrInsufficientFunds = errors.New("insufficient balance")

// Filter narrows GetTandas. The zero value matches everything.
type Filter struct {
	Status tanda.Status
	Wallet string
}

// Match reports whether t passes the filter.
func (f Filter) Match(t tanda.Tanda) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Wallet != "" {
		if _, _, ok := t.Participant(f.Wallet); !ok {
			return false
		}
	}
	return true
}

// Proof is the evidence that a contribution left the wallet.
type Proof struct {
	TxHash string          `json:"txHash"`
	Amount decimal.Decimal `json:"amount"`
	PaidAt time.Time       `json:"paidAt"`
}

// AdvanceResult is what the ledger did on advance.
type AdvanceResult struct {
	Tanda    tanda.Tanda     `json:"tanda"`
	Expelled []string        `json:"expelled,omitempty"`
	PaidTo   string          `json:"paidTo,omitempty"`
	Payout   decimal.Decimal `json:"payout"`
	Advanced bool            `json:"advanced"`
}

// Ledger is the authoritative system of record for tandas.
//
// Implementations return *tanda.Error: NOT_FOUND for unknown ids,
// VALIDATION or CONFLICT for rejected calls, TRANSIENT for transport
// failures.
type Ledger interface {
	CreateTanda(ctx context.Context, req tanda.CreateRequest) (tanda.Tanda, error)
	JoinTanda(ctx context.Context, id, wallet string) (tanda.Tanda, error)
	// StartTanda moves a waiting tanda to active. Only the creator may call it.
	StartTanda(ctx context.Context, id, wallet string) (tanda.Tanda, error)
	GetTanda(ctx context.Context, id string) (tanda.Tanda, error)
	GetTandas(ctx context.Context, filter Filter) ([]tanda.Tanda, error)
	ConfirmDeposit(ctx context.Context, id, wallet string, proof Proof) (tanda.Tanda, error)
	// Advance pays out or expels delinquents, whichever the ledger's own
	// rules allow right now.
	Advance(ctx context.Context, id string) (AdvanceResult, error)
	LeaveTanda(ctx context.Context, id, wallet string) error
}

// Wallet moves the user's funds into a tanda.
type Wallet interface {
	Address() string
	Contribute(ctx context.Context, t tanda.Tanda) (Proof, error)
}

// Reminder is the payload of a scheduled notification.
type Reminder struct {
	Wallet string `json:"wallet"`
	Cycle  int    `json:"cycle"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Notifier schedules payment reminders.
type Notifier interface {
	Schedule(ctx context.Context, tandaID string, dueAt time.Time, r Reminder) error
	CancelAll(ctx context.Context, tandaID string) error
}

// NopNotifier drops every reminder.
type NopNotifier struct{}

// Schedule does nothing.
func (NopNotifier) Schedule(context.Context, string, time.Time, Reminder) error { return nil }

// CancelAll does nothing.
func (NopNotifier) CancelAll(context.Context, string) error { return nil }

package memledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/tanda"
)

// Wallet is a balance held next to a Ledger. Payouts to its address are
// credited automatically.
//
// Thread-safety: safe for concurrent use.
type Wallet struct {
	address string
	ledger  *Ledger

	mu      sync.Mutex
	balance decimal.Decimal
}

var _ ledger.Wallet = (*Wallet)(nil)

// Wallet returns the wallet for address, creating it with a zero balance.
func (l *Ledger) Wallet(address string) *Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[address]
	if !ok {
		w = &Wallet{address: address, ledger: l, balance: decimal.Zero}
		l.wallets[address] = w
	}
	return w
}

// Address implements ledger.Wallet.
func (w *Wallet) Address() string {
	return w.address
}

// Balance returns the current balance.
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Fund adds amount to the balance.
func (w *Wallet) Fund(amount decimal.Decimal) {
	w.credit(amount)
}

func (w *Wallet) credit(amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance = w.balance.Add(amount)
}

// Contribute implements ledger.Wallet. It debits t.Amount or fails with
// ledger.ErrInsufficientFunds. It does not confirm the deposit.
func (w *Wallet) Contribute(ctx context.Context, t tanda.Tanda) (ledger.Proof, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Proof{}, err
	}

	w.mu.Lock()
	if w.balance.LessThan(t.Amount) {
		w.mu.Unlock()
		return ledger.Proof{}, fmt.Errorf("contribute %s to %s: %w", t.Amount, t.ID, ledger.ErrInsufficientFunds)
	}
	w.balance = w.balance.Sub(t.Amount)
	w.mu.Unlock()

	// Ledger lock is taken after the wallet lock is released: Advance
	// credits wallets while holding the ledger lock.
	w.ledger.mu.Lock()
	w.ledger.tx++
	tx := w.ledger.tx
	now := w.ledger.clock.Now()
	w.ledger.mu.Unlock()

	return ledger.Proof{
		TxHash: fmt.Sprintf("tx-%d", tx),
		Amount: t.Amount,
		PaidAt: now,
	}, nil
}

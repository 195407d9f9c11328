package cycle

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tandasync/internal/tanda"
)

// DefaultCycleInterval is the spacing between payouts used for projections.
const DefaultCycleInterval = 7 * 24 * time.Hour

// Deadline is the end of the delinquency window for the current cycle.
func Deadline(t tanda.Tanda, window time.Duration) time.Time {
	return t.LastPayout().Add(window)
}

// TimeToDeadline returns the time left before delinquency, zero once passed.
func TimeToDeadline(t tanda.Tanda, now time.Time, window time.Duration) time.Duration {
	left := Deadline(t, window).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// DaysRemaining rounds d up to whole days.
func DaysRemaining(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	day := 24 * time.Hour
	return int((d + day - 1) / day)
}

// Beneficiary returns the participant entitled to the current cycle's payout.
func Beneficiary(t tanda.Tanda) (tanda.Participant, bool) {
	if t.CurrentCycle < 1 {
		return tanda.Participant{}, false
	}
	pos := t.CurrentCycle - 1
	if pos < len(t.BeneficiaryOrder) {
		pos = t.BeneficiaryOrder[pos]
	}
	if pos < 0 || pos >= len(t.Participants) {
		return tanda.Participant{}, false
	}
	return t.Participants[pos], true
}

// Pot is amount × members: what one payout distributes.
func Pot(t tanda.Tanda, members int) decimal.Decimal {
	return t.Amount.Mul(decimal.NewFromInt(int64(members)))
}

// AdvancePreview describes what the ledger would do on advance.
type AdvancePreview struct {
	Decision    Decision        `json:"decision"`
	Expel       []string        `json:"expel,omitempty"`
	WillPayout  bool            `json:"willPayout"`
	Beneficiary string          `json:"beneficiary,omitempty"`
	Payout      decimal.Decimal `json:"payout"`
}

// Preview projects the outcome of advance without calling the ledger.
// After expelling delinquents, the payout happens only if more than one
// member remains; all remaining members have deposited by construction.
func Preview(t tanda.Tanda, now time.Time, window time.Duration) AdvancePreview {
	p := AdvancePreview{Decision: Evaluate(t, now, window), Payout: decimal.Zero}
	if !p.Decision.ShouldAdvance() {
		return p
	}

	p.Expel = Delinquents(t, now, window)
	remaining := len(t.Participants) - len(p.Expel)
	p.WillPayout = remaining > 1
	if !p.WillPayout {
		return p
	}

	p.Payout = Pot(t, remaining)
	if b, ok := Beneficiary(t); ok && b.HasDeposited {
		p.Beneficiary = b.Wallet
	}
	return p
}

// ItemStatus is the state of one cycle in the payment schedule.
type ItemStatus string

const (
	ItemPaid     ItemStatus = "paid"
	ItemCurrent  ItemStatus = "current"
	ItemUpcoming ItemStatus = "upcoming"
)

// PaymentScheduleItem is one row of the projected payout calendar.
type PaymentScheduleItem struct {
	Cycle       int             `json:"cycle"`
	Beneficiary string          `json:"beneficiary,omitempty"`
	DueAt       time.Time       `json:"dueAt"`
	Amount      decimal.Decimal `json:"amount"`
	Status      ItemStatus      `json:"status"`
}

// Schedule projects every cycle of t, spacing payouts by interval from the
// last payout. Past cycles are estimates: the ledger does not report them.
func Schedule(t tanda.Tanda, interval time.Duration) []PaymentScheduleItem {
	if t.TotalCycles <= 0 {
		return nil
	}
	cur := t.CurrentCycle
	if cur < 1 {
		cur = 1
	}

	items := make([]PaymentScheduleItem, 0, t.TotalCycles)
	for c := 1; c <= t.TotalCycles; c++ {
		item := PaymentScheduleItem{
			Cycle:  c,
			DueAt:  t.LastPayout().Add(time.Duration(c-cur+1) * interval),
			Amount: t.Amount,
		}
		at := t
		at.CurrentCycle = c
		if b, ok := Beneficiary(at); ok {
			item.Beneficiary = b.Wallet
		}
		switch {
		case t.Status.Terminal() || c < t.CurrentCycle:
			item.Status = ItemPaid
		case c == t.CurrentCycle:
			item.Status = ItemCurrent
		default:
			item.Status = ItemUpcoming
		}
		items = append(items, item)
	}
	return items
}

// NextPaymentInfo is what the wallet owes for the current cycle.
type NextPaymentInfo struct {
	TandaID       string          `json:"tandaId"`
	Cycle         int             `json:"cycle"`
	Amount        decimal.Decimal `json:"amount"`
	DueAt         time.Time       `json:"dueAt"`
	Remaining     time.Duration   `json:"remaining"`
	DaysRemaining int             `json:"daysRemaining"`
	HasDeposited  bool            `json:"hasDeposited"`
	Overdue       bool            `json:"overdue"`
	Beneficiary   string          `json:"beneficiary,omitempty"`
}

// NextPayment returns the wallet's obligation in an active tanda.
func NextPayment(t tanda.Tanda, wallet string, now time.Time, window time.Duration) (NextPaymentInfo, bool) {
	if t.Status != tanda.StatusActive {
		return NextPaymentInfo{}, false
	}
	p, _, ok := t.Participant(wallet)
	if !ok {
		return NextPaymentInfo{}, false
	}

	remaining := TimeToDeadline(t, now, window)
	info := NextPaymentInfo{
		TandaID:       t.ID,
		Cycle:         t.CurrentCycle,
		Amount:        t.Amount,
		DueAt:         Deadline(t, window),
		Remaining:     remaining,
		DaysRemaining: DaysRemaining(remaining),
		HasDeposited:  p.HasDeposited,
		Overdue:       !p.HasDeposited && now.After(Deadline(t, window)),
	}
	if b, ok := Beneficiary(t); ok {
		info.Beneficiary = b.Wallet
	}
	return info, true
}

// Package cycle decides what an "advance" would do for a tanda snapshot and
// derives the read-only payment projections shown to the user.
//
// Everything here is a pure function of a Tanda and "now".
package cycle

import (
	"fmt"
	"time"

	"github.com/roach88/tandasync/internal/tanda"
)

// DefaultDelinquencyWindow is the time after the last payout before
// members who have not deposited count as delinquent.
const DefaultDelinquencyWindow = 6 * 24 * time.Hour

// Decision is the outcome of Evaluate.
type Decision int

const (
	NoAction Decision = iota
	PayoutReady
	DelinquentsPresent
)

func (d Decision) String() string {
	switch d {
	case PayoutReady:
		return "payout_ready"
	case DelinquentsPresent:
		return "delinquents_present"
	default:
		return "no_action"
	}
}

// MarshalText renders the decision name in JSON output.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a decision name.
func (d *Decision) UnmarshalText(b []byte) error {
	for _, c := range []Decision{NoAction, PayoutReady, DelinquentsPresent} {
		if c.String() == string(b) {
			*d = c
			return nil
		}
	}
	return fmt.Errorf("unknown decision %q", b)
}

// ShouldAdvance reports whether the ledger should be asked to advance.
func (d Decision) ShouldAdvance() bool {
	return d == PayoutReady || d == DelinquentsPresent
}

// Evaluate runs the cycle advancement policy.
//
// All-deposited wins over delinquency: once everyone has paid, the result
// is PayoutReady no matter how long ago the last payout was. The window
// comparison is strict, so exactly window elapsed is not yet delinquent.
func Evaluate(t tanda.Tanda, now time.Time, window time.Duration) Decision {
	if t.Status != tanda.StatusActive {
		return NoAction
	}

	allDeposited := true
	for _, p := range t.Participants {
		if !p.HasDeposited {
			allDeposited = false
			break
		}
	}
	if allDeposited {
		return PayoutReady
	}

	if now.Sub(t.LastPayout()) > window {
		return DelinquentsPresent
	}
	return NoAction
}

// Delinquents lists the wallets the ledger would expel on advance.
// Empty unless Evaluate returns DelinquentsPresent.
func Delinquents(t tanda.Tanda, now time.Time, window time.Duration) []string {
	if Evaluate(t, now, window) != DelinquentsPresent {
		return nil
	}
	var out []string
	for _, p := range t.Participants {
		if !p.HasDeposited {
			out = append(out, p.Wallet)
		}
	}
	return out
}

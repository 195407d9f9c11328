package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tandasync/internal/cycle"
	"github.com/roach88/tandasync/internal/ledger"
	"github.com/roach88/tandasync/internal/scoring"
)

// Describe renders the user-facing line for rec. deadline is the end of
// the tanda's delinquency window.
func (r *Registry) Describe(rec Record, deadline time.Time) string {
	return Describe(rec, r.policy.MaxAttempts, deadline, r.clock.Now())
}

// Describe renders the user-facing line for rec without a Registry.
func Describe(rec Record, maxAttempts int, deadline, now time.Time) string {
	switch rec.Status {
	case StatusPendingRetry, StatusRetrying:
		days := cycle.DaysRemaining(deadline.Sub(now))
		return fmt.Sprintf("%s, %d days remaining, attempt %d/%d", cause(rec.ErrorMessage), days, rec.AttemptCount, maxAttempts)
	case StatusResolved:
		return "deposit confirmed"
	case StatusFailedPermanent:
		return "attempts exhausted, removal in progress"
	case StatusUserExpelled:
		if rec.AttemptCount >= maxAttempts {
			return fmt.Sprintf("expelled, %d score", scoring.DeltaFor(scoring.EventExpelledForNonpayment))
		}
		return "retries cancelled"
	default:
		return string(rec.Status)
	}
}

// cause words the stored failure message for users. Records only keep the
// error text, so the match is on the messages the ledger packages produce.
func cause(msg string) string {
	switch {
	case msg == "", strings.Contains(msg, ledger.ErrInsufficientFunds.Error()):
		return "insufficient balance"
	case strings.Contains(msg, "confirm deposit"):
		return "confirmation pending"
	case strings.Contains(msg, context.DeadlineExceeded.Error()):
		return "ledger timed out"
	default:
		return "deposit failed"
	}
}

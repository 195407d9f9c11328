// Package scoring maintains the bounded reputation score.
//
// ApplyDelta and IsBlocked are pure and total. Book persists the
// resulting UserReputation; callers decide when an event happened.
package scoring

const (
	MinScore = 0
	MaxScore = 100

	// BlockThreshold: wallets scoring strictly below it are blocked.
	BlockThreshold = 25
)

// Event names a scoring occurrence.
type Event string

const (
	EventDeposit               Event = "deposit"
	EventCreateTanda           Event = "create_tanda"
	EventCompleteTanda         Event = "complete_tanda"
	EventExpelledForNonpayment Event = "expelled_for_nonpayment"
)

var deltas = map[Event]int{
	EventDeposit:               5,
	EventCreateTanda:           5,
	EventCompleteTanda:         20,
	EventExpelledForNonpayment: -25,
}

// DeltaFor returns the point delta for ev. Unknown events score 0.
func DeltaFor(ev Event) int {
	return deltas[ev]
}

// ApplyDelta returns clamp(score+delta, MinScore, MaxScore).
func ApplyDelta(score, delta int) int {
	next := score + delta
	if next < MinScore {
		return MinScore
	}
	if next > MaxScore {
		return MaxScore
	}
	return next
}

// IsBlocked reports whether score is below BlockThreshold.
func IsBlocked(score int) bool {
	return score < BlockThreshold
}

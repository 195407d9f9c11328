package tanda

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a tanda as reported by the ledger.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	// StatusCancelled is only ever reported by the ledger for a tanda that
	// was cancelled while still forming. It is terminal.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusActive:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether from → to respects the monotonic
// waiting → active → completed order. Staying put is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return from == StatusWaiting
	}
	return to.rank() > from.rank()
}

const (
	// LocalIDPrefix marks a tanda created while the ledger was unreachable.
	LocalIDPrefix = "local_"

	// MinParticipants and MaxParticipantsLimit bound maxParticipants on create.
	MinParticipants      = 2
	MaxParticipantsLimit = 12

	// InitialScore is the reputation every wallet starts with.
	InitialScore = 50
)

// Participant is a member of a tanda.
type Participant struct {
	Wallet       string    `json:"wallet"`
	JoinedAt     time.Time `json:"joinedAt"`
	HasDeposited bool      `json:"hasDeposited"`
	HasWithdrawn bool      `json:"hasWithdrawn"`
	// Score is a display-only copy of the reputation at join time.
	Score int `json:"score"`
}

// Tanda is a rotating savings group.
type Tanda struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Creator          string          `json:"creator,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	MaxParticipants  int             `json:"maxParticipants"`
	Participants     []Participant   `json:"participants"`
	CurrentCycle     int             `json:"currentCycle"`
	TotalCycles      int             `json:"totalCycles"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	LastPayoutAt     time.Time       `json:"lastPayoutAt"`
	BeneficiaryOrder []int           `json:"beneficiaryOrder,omitempty"`
}

// IsLocal reports whether t is a provisional, not-yet-synced tanda.
func (t Tanda) IsLocal() bool {
	return strings.HasPrefix(t.ID, LocalIDPrefix)
}

// LastPayout returns LastPayoutAt, defaulting to CreatedAt.
func (t Tanda) LastPayout() time.Time {
	if t.LastPayoutAt.IsZero() {
		return t.CreatedAt
	}
	return t.LastPayoutAt
}

// Participant looks up a member by wallet address.
func (t Tanda) Participant(wallet string) (Participant, int, bool) {
	for i, p := range t.Participants {
		if p.Wallet == wallet {
			return p, i, true
		}
	}
	return Participant{}, -1, false
}

// IsFull reports whether no more participants can join.
func (t Tanda) IsFull() bool {
	return len(t.Participants) >= t.MaxParticipants
}

// Clone returns a deep copy so callers may mutate slices freely.
func (t Tanda) Clone() Tanda {
	c := t
	if t.Participants != nil {
		c.Participants = make([]Participant, len(t.Participants))
		copy(c.Participants, t.Participants)
	}
	if t.BeneficiaryOrder != nil {
		c.BeneficiaryOrder = make([]int, len(t.BeneficiaryOrder))
		copy(c.BeneficiaryOrder, t.BeneficiaryOrder)
	}
	return c
}

// Validate checks the structural invariants of a snapshot.
func (t Tanda) Validate() error {
	if t.ID == "" {
		return NewValidationError("tanda id is required")
	}
	if !t.Status.Valid() {
		return &Error{Code: CodeValidation, Message: fmt.Sprintf("unknown status %q", t.Status), TandaID: t.ID}
	}
	if !t.Amount.IsPositive() {
		return &Error{Code: CodeValidation, Message: "amount must be positive", TandaID: t.ID}
	}
	if t.MaxParticipants < MinParticipants {
		return &Error{Code: CodeValidation, Message: fmt.Sprintf("maxParticipants must be at least %d", MinParticipants), TandaID: t.ID}
	}
	if len(t.Participants) > t.MaxParticipants {
		return &Error{
			Code:    CodeInvariant,
			Message: fmt.Sprintf("%d participants exceed maxParticipants %d", len(t.Participants), t.MaxParticipants),
			TandaID: t.ID,
		}
	}
	if t.CurrentCycle < 0 || t.CurrentCycle > t.TotalCycles {
		return &Error{
			Code:    CodeInvariant,
			Message: fmt.Sprintf("currentCycle %d outside [0, %d]", t.CurrentCycle, t.TotalCycles),
			TandaID: t.ID,
		}
	}
	return nil
}

// CreateRequest carries the user input for a new tanda.
type CreateRequest struct {
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount"`
	MaxParticipants int             `json:"maxParticipants"`
	Creator         string          `json:"creator"`
}

// Normalize returns a copy with the name and creator cleaned up.
func (r CreateRequest) Normalize() CreateRequest {
	r.Name = NormalizeName(r.Name)
	r.Creator = NormalizeWallet(r.Creator)
	return r
}

// Validate applies the ledger's create rules locally so a provisional
// tanda is never created that the ledger would later reject.
func (r CreateRequest) Validate() error {
	if r.Name == "" {
		return NewValidationError("name is required")
	}
	if r.Creator == "" {
		return NewValidationError("creator wallet is required")
	}
	if !r.Amount.IsPositive() {
		return NewValidationError("amount must be positive")
	}
	if r.MaxParticipants < MinParticipants || r.MaxParticipants > MaxParticipantsLimit {
		return NewValidationError(fmt.Sprintf("maxParticipants must be %d-%d", MinParticipants, MaxParticipantsLimit))
	}
	return nil
}

// Provisional builds the locally authored copy of a tanda the ledger has
// not acknowledged yet. The creator is the first participant.
func (r CreateRequest) Provisional(id string, now time.Time, creatorScore int) Tanda {
	order := make([]int, r.MaxParticipants)
	for i := range order {
		order[i] = i
	}
	return Tanda{
		ID:              id,
		Name:            r.Name,
		Creator:         r.Creator,
		Amount:          r.Amount,
		MaxParticipants: r.MaxParticipants,
		Participants: []Participant{{
			Wallet:   r.Creator,
			JoinedAt: now,
			Score:    creatorScore,
		}},
		TotalCycles:      r.MaxParticipants,
		Status:           StatusWaiting,
		CreatedAt:        now,
		LastPayoutAt:     now,
		BeneficiaryOrder: order,
	}
}

// UserReputation is the bounded score of a wallet.
// It is only mutated through scoring deltas.
type UserReputation struct {
	Wallet          string    `json:"wallet"`
	Score           int       `json:"score"`
	TotalTandas     int       `json:"totalTandas"`
	CompletedTandas int       `json:"completedTandas"`
	ActiveDebt      bool      `json:"activeDebt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NewUserReputation returns the first-creation record for wallet.
func NewUserReputation(wallet string) UserReputation {
	return UserReputation{Wallet: wallet, Score: InitialScore}
}

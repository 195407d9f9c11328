package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultWallet is the device wallet when a scenario names none.
const DefaultWallet = "GME"

// Scenario is one lifecycle walk-through with its expected end state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Wallet is the wallet the orchestrator acts for.
	Wallet string `yaml:"wallet,omitempty"`

	// Window overrides the delinquency window, e.g. "48h".
	Window string `yaml:"window,omitempty"`

	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is a single action in the flow.
type Step struct {
	Step string `yaml:"step"`

	// As is the acting wallet. Empty means the device wallet.
	As string `yaml:"as,omitempty"`

	// Name, Amount and Members describe the tanda for create.
	// Amount is also the credit for fund.
	Name    string `yaml:"name,omitempty"`
	Amount  string `yaml:"amount,omitempty"`
	Members int    `yaml:"members,omitempty"`

	// By is the duration for clock.
	By string `yaml:"by,omitempty"`

	// Expect is the expected outcome: "ok" (the default) or a lower-case
	// error code such as "transient" or "conflict".
	Expect string `yaml:"expect,omitempty"`
}

// Assertion checks the state left behind by the flow.
type Assertion struct {
	Type string `yaml:"type"`

	// Wallet defaults to the device wallet.
	Wallet string `yaml:"wallet,omitempty"`

	// Cycle selects the retry record (record).
	Cycle int `yaml:"cycle,omitempty"`

	// Status is a record status (record) or tanda status (tanda).
	Status string `yaml:"status,omitempty"`

	Attempts   *int  `yaml:"attempts,omitempty"`
	Score      *int  `yaml:"score,omitempty"`
	ActiveDebt *bool `yaml:"active_debt,omitempty"`
	Members    *int  `yaml:"members,omitempty"`
	Present    *bool `yaml:"present,omitempty"`
	Count      *int  `yaml:"count,omitempty"`

	// CurrentCycle is the expected tanda cycle (tanda).
	CurrentCycle *int `yaml:"current_cycle,omitempty"`

	// Amount is the expected balance (balance).
	Amount string `yaml:"amount,omitempty"`

	// Step and Outcome filter trace events (trace_count).
	Step    string `yaml:"step,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
}

// Step type constants.
const (
	StepCreate      = "create"
	StepJoin        = "join"
	StepStart       = "start"
	StepLeave       = "leave"
	StepFund        = "fund"
	StepDeposit     = "deposit"
	StepAdvance     = "advance"
	StepTick        = "tick"
	StepForceRetry  = "force_retry"
	StepCancelRetry = "cancel_retry"
	StepClock       = "clock"
	StepOffline     = "offline"
	StepOnline      = "online"
	StepSync        = "sync"
)

// Assertion type constants.
const (
	AssertRecord     = "record"
	AssertScore      = "score"
	AssertTanda      = "tanda"
	AssertMember     = "member"
	AssertBalance    = "balance"
	AssertReminders  = "reminders"
	AssertTraceCount = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so a typo never silently skips a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Window != "" {
		if d, err := time.ParseDuration(s.Window); err != nil || d <= 0 {
			return fmt.Errorf("window %q is not a positive duration", s.Window)
		}
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, s Step) error {
	switch s.Step {
	case "":
		return fmt.Errorf("flow[%d]: step is required", i)
	case StepCreate:
		if s.Members == 0 {
			return fmt.Errorf("flow[%d]: members is required for create", i)
		}
		if _, err := decimal.NewFromString(s.Amount); err != nil {
			return fmt.Errorf("flow[%d]: amount %q: %w", i, s.Amount, err)
		}
	case StepFund:
		if _, err := decimal.NewFromString(s.Amount); err != nil {
			return fmt.Errorf("flow[%d]: amount %q: %w", i, s.Amount, err)
		}
	case StepClock:
		if d, err := time.ParseDuration(s.By); err != nil || d <= 0 {
			return fmt.Errorf("flow[%d]: by %q is not a positive duration", i, s.By)
		}
	case StepJoin, StepStart, StepLeave, StepDeposit, StepAdvance, StepTick,
		StepForceRetry, StepCancelRetry, StepOffline, StepOnline, StepSync:
	default:
		return fmt.Errorf("flow[%d]: unknown step %q", i, s.Step)
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertRecord:
		if a.Cycle == 0 || a.Status == "" {
			return fmt.Errorf("assertions[%d]: cycle and status are required for record", i)
		}
	case AssertScore:
		if a.Score == nil && a.ActiveDebt == nil {
			return fmt.Errorf("assertions[%d]: score or active_debt is required", i)
		}
	case AssertTanda:
		if a.Status == "" && a.Members == nil && a.CurrentCycle == nil {
			return fmt.Errorf("assertions[%d]: tanda needs status, members or current_cycle", i)
		}
	case AssertMember:
		if a.Wallet == "" || a.Present == nil {
			return fmt.Errorf("assertions[%d]: wallet and present are required for member", i)
		}
	case AssertBalance:
		if _, err := decimal.NewFromString(a.Amount); err != nil {
			return fmt.Errorf("assertions[%d]: amount %q: %w", i, a.Amount, err)
		}
	case AssertReminders:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for reminders", i)
		}
	case AssertTraceCount:
		if a.Step == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: step and count are required for trace_count", i)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}

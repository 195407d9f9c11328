package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden representation of a run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Wallet       string       `json:"wallet"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalTrace renders the trace as indented JSON with a trailing newline.
// Detail maps marshal with sorted keys, so the output is stable.
func MarshalTrace(scenarioName, wallet string, trace []TraceEvent) ([]byte, error) {
	if wallet == "" {
		wallet = DefaultWallet
	}
	data, err := json.MarshalIndent(TraceSnapshot{
		ScenarioName: scenarioName,
		Wallet:       wallet,
		Trace:        trace,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against the golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(scenario.Name, scenario.Wallet, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}

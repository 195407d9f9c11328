package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tandasync/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// SimulateResult holds the overall simulation result.
type SimulateResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenarios>",
		Short: "Replay lifecycle scenarios against an in-memory ledger",
		Long: `Run scenario files against an in-memory ledger with a fake clock.

<scenarios> is a YAML file or a directory of them. Each scenario's trace
is compared with golden/<name>.golden next to the scenarios directory
when that file exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tanda simulate ./testdata/scenarios
  tanda simulate ./testdata/scenarios --filter "offline_*"
  tanda simulate ./testdata/scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	info, err := os.Stat(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenarios not found", err)
	}

	files := []string{path}
	goldenDir := filepath.Join(filepath.Dir(filepath.Dir(path)), "golden")
	if info.IsDir() {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(path)), "golden")
		files, err = findScenarioFiles(path, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "find scenarios", err)
		}
	}

	out := opts.formatter(cmd)
	logger := slog.New(slog.DiscardHandler)
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	result := SimulateResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		out.VerboseLog("running %s", file)
		res := simulateOne(cmd, file, goldenDir, opts.Update, logger)
		if opts.Format != "json" {
			printScenarioResult(cmd.OutOrStdout(), res)
		}
		result.Scenarios = append(result.Scenarios, res)
		if res.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return err
		}
	} else if result.Total == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Simulation Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// findScenarioFiles finds all YAML scenario files under dir.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func simulateOne(cmd *cobra.Command, file, goldenDir string, update bool, logger *slog.Logger) ScenarioResult {
	fail := func(name string, format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), "load scenario: %v", err)
	}
	result, err := harness.Run(cmd.Context(), scenario, harness.WithLogger(logger))
	if err != nil {
		return fail(scenario.Name, "execution failed: %v", err)
	}
	trace, err := harness.MarshalTrace(scenario.Name, scenario.Wallet, result.Trace)
	if err != nil {
		return fail(scenario.Name, "marshal trace: %v", err)
	}

	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")
	if update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			return fail(scenario.Name, "create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, trace, 0o644); err != nil {
			return fail(scenario.Name, "write golden file: %v", err)
		}
	} else {
		golden, err := os.ReadFile(goldenPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// assertions only
		case err != nil:
			return fail(scenario.Name, "read golden file: %v", err)
		case !bytes.Equal(golden, trace):
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	}

	return ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
}

func printScenarioResult(w io.Writer, res ScenarioResult) {
	if res.Pass {
		fmt.Fprintf(w, "✓ %s\n", res.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", res.Name)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

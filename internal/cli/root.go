package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Backend opens the ledger, wallet and store. Nil means OpenBackend.
	Backend Backend
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the tanda CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tanda",
		Short: "Tanda lifecycle reconciliation engine",
		Long: `Keeps a wallet's tandas in step with the ledger.

Failed deposits are retried on a fixed schedule and end in expulsion when
every attempt fails. Cycles are only forwarded to the ledger when a payout
is ready or delinquents are present. Tandas created while the ledger is
unreachable are kept locally until a sync publishes them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ~/.tanda/tanda.yaml)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTandasCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewLeaveCommand(opts))
	cmd.AddCommand(NewDepositCommand(opts))
	cmd.AddCommand(NewAdvanceCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRetriesCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/tandasync/internal/orchestrator"
	"github.com/roach88/tandasync/internal/retry"
)

// NewRetriesCommand creates the retries command group.
func NewRetriesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retries",
		Short: "Inspect and act on failed deposits",
		Long: `Failed deposits are retried automatically by "tanda run": the first
retry after retry.gracePeriod, later ones every retry.retryInterval, up to
retry.maxAttempts attempts. The last failure expels the wallet from the
tanda with a score penalty.`,
	}

	cmd.AddCommand(newRetriesListCommand(rootOpts))
	cmd.AddCommand(newRetryActionCommand(rootOpts, "force", "Retry a failed deposit now",
		func(a *app) retryAction { return a.svc.ForceRetry }))
	cmd.AddCommand(newRetryActionCommand(rootOpts, "resolve", "Mark a failed deposit as paid elsewhere",
		func(a *app) retryAction { return a.svc.Resolve }))
	cmd.AddCommand(newRetryActionCommand(rootOpts, "cancel", "Stop retrying without expelling",
		func(a *app) retryAction { return a.svc.CancelRetry }))

	return cmd
}

func newRetriesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List failed deposit records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app, out *OutputFormatter) error {
				sts, err := a.svc.DepositStatuses(cmd.Context())
				if err != nil {
					return out.Fail(err, nil)
				}
				return out.Render(sts, func(w io.Writer) { printStatuses(w, sts) })
			})
		},
	}
}

type retryAction = func(ctx context.Context, key retry.Key) (orchestrator.DepositStatus, error)

func newRetryActionCommand(rootOpts *RootOptions, name, short string, pick func(a *app) retryAction) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <tanda-id> <cycle>",
		Short:         short,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cyc, err := strconv.Atoi(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid cycle", err)
			}
			return withApp(rootOpts, cmd, func(a *app, out *OutputFormatter) error {
				key := retry.Key{TandaID: args[0], Wallet: a.svc.Wallet(), Cycle: cyc}
				st, err := pick(a)(cmd.Context(), key)
				if err != nil {
					return out.Fail(err, nil)
				}
				return out.Render(st, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s\n", key, st.Message)
				})
			})
		},
	}
}

func printStatuses(w io.Writer, sts []orchestrator.DepositStatus) {
	if len(sts) == 0 {
		fmt.Fprintln(w, "No failed deposits.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TANDA\tCYCLE\tSTATUS\tATTEMPTS\tMESSAGE")
	for _, st := range sts {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n",
			st.Record.TandaID, st.Record.Cycle, st.Record.Status, st.Record.AttemptCount, st.Message)
	}
	tw.Flush()
}

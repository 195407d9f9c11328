package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/tandasync/internal/cycle"
	"github.com/roach88/tandasync/internal/orchestrator"
	"github.com/roach88/tandasync/internal/tanda"
)

// NewTandasCommand creates the tandas command.
func NewTandasCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tandas",
		Short: "List the wallet's tandas",
		Long: `List the wallet's tandas from the local cache, including provisional
ones that are not synced yet. A refresh from the ledger runs in the
background and is visible on the next call.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app, out *OutputFormatter) error {
				ts, err := a.svc.Tandas(cmd.Context())
				if err != nil {
					return out.Fail(err, nil)
				}
				return out.Render(ts, func(w io.Writer) { printTandas(w, ts) })
			})
		},
	}
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Name    string
	Amount  string
	Members int
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tanda",
		Long: `Create a tanda with this wallet as creator.

When the ledger is unreachable the tanda is kept locally with a local_ id
and published by the next sync.

Example:
  tanda create --name Barrio --amount 10 --members 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "tanda name (required)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "contribution per cycle (required)")
	cmd.Flags().IntVar(&opts.Members, "members", tanda.MinParticipants, "maximum participants")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	amount, err := decimal.NewFromString(opts.Amount)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid amount", err)
	}
	return withApp(opts.RootOptions, cmd, func(a *app, out *OutputFormatter) error {
		t, err := a.svc.Create(cmd.Context(), tanda.CreateRequest{
			Name:            opts.Name,
			Amount:          amount,
			MaxParticipants: opts.Members,
		})
		if err != nil {
			return out.Fail(err, nil)
		}
		return out.Render(t, func(w io.Writer) {
			if t.IsLocal() {
				fmt.Fprintf(w, "Ledger unreachable: %s kept locally until the next sync\n", t.ID)
				return
			}
			fmt.Fprintf(w, "Created %s\n", t.ID)
		})
	})
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	return tandaCommand(rootOpts, "join <tanda-id>", "Join a forming tanda",
		func(a *app, cmd *cobra.Command, id string, out *OutputFormatter) error {
			t, err := a.svc.Join(cmd.Context(), id)
			if err != nil {
				return out.Fail(err, nil)
			}
			return out.Render(t, func(w io.Writer) {
				fmt.Fprintf(w, "Joined %s (%d/%d members)\n", t.ID, len(t.Participants), t.MaxParticipants)
			})
		})
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	return tandaCommand(rootOpts, "start <tanda-id>", "Start a tanda this wallet created",
		func(a *app, cmd *cobra.Command, id string, out *OutputFormatter) error {
			t, err := a.svc.Start(cmd.Context(), id)
			if err != nil {
				return out.Fail(err, nil)
			}
			return out.Render(t, func(w io.Writer) {
				fmt.Fprintf(w, "Started %s, cycle %d of %d\n", t.ID, t.CurrentCycle, t.TotalCycles)
			})
		})
}

// NewLeaveCommand creates the leave command.
func NewLeaveCommand(rootOpts *RootOptions) *cobra.Command {
	return tandaCommand(rootOpts, "leave <tanda-id>", "Leave a tanda and drop its retries",
		func(a *app, cmd *cobra.Command, id string, out *OutputFormatter) error {
			if err := a.svc.Leave(cmd.Context(), id); err != nil {
				return out.Fail(err, nil)
			}
			return out.Render(map[string]string{"left": id}, func(w io.Writer) {
				fmt.Fprintf(w, "Left %s\n", id)
			})
		})
}

// NewDepositCommand creates the deposit command.
func NewDepositCommand(rootOpts *RootOptions) *cobra.Command {
	return tandaCommand(rootOpts, "deposit <tanda-id>", "Pay the current cycle's contribution",
		func(a *app, cmd *cobra.Command, id string, out *OutputFormatter) error {
			res, err := a.svc.Deposit(cmd.Context(), id)
			if err != nil {
				if res.Record != nil {
					return out.Fail(err, res)
				}
				return out.Fail(err, nil)
			}
			return out.Render(res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", id, res.Message)
				if res.Proof != nil {
					fmt.Fprintf(w, "  tx %s, %s\n", res.Proof.TxHash, res.Proof.Amount)
				}
			})
		})
}

// AdvanceOptions holds flags for the advance command.
type AdvanceOptions struct {
	*RootOptions
	DryRun bool
}

// NewAdvanceCommand creates the advance command.
func NewAdvanceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdvanceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "advance <tanda-id>",
		Short: "Ask the ledger to close the current cycle if due",
		Long: `Run the cycle policy and forward an advance to the ledger only when a
payout is ready or delinquent members are present. The ledger performs
the payout and expulsions itself.

With --dry-run nothing is sent; the projected outcome is printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdvance(opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what advance would do")
	return cmd
}

func runAdvance(opts *AdvanceOptions, id string, cmd *cobra.Command) error {
	return withApp(opts.RootOptions, cmd, func(a *app, out *OutputFormatter) error {
		ctx := cmd.Context()
		if opts.DryRun {
			p, err := a.svc.PreviewAdvance(ctx, id)
			if err != nil {
				return out.Fail(err, nil)
			}
			return out.Render(p, func(w io.Writer) { printPreview(w, id, p) })
		}

		res, err := a.svc.Advance(ctx, id)
		if err != nil {
			return out.Fail(err, nil)
		}
		return out.Render(res, func(w io.Writer) { printAdvance(w, id, res) })
	})
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	return tandaCommand(rootOpts, "schedule <tanda-id>", "Show the payment schedule and the next payment",
		func(a *app, cmd *cobra.Command, id string, out *OutputFormatter) error {
			ctx := cmd.Context()
			items, err := a.svc.Schedule(ctx, id)
			if err != nil {
				return out.Fail(err, nil)
			}
			next, ok, err := a.svc.NextPayment(ctx, id)
			if err != nil && !ok {
				a.logger.Debug("next payment unavailable", "tanda_id", id, "error", err)
			}

			data := struct {
				Schedule []cycle.PaymentScheduleItem `json:"schedule"`
				Next     *cycle.NextPaymentInfo      `json:"next,omitempty"`
			}{Schedule: items}
			if ok {
				data.Next = &next
			}
			return out.Render(data, func(w io.Writer) {
				printSchedule(w, items)
				if ok {
					printNext(w, next)
				}
			})
		})
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sync",
		Short:         "Publish offline tandas and refresh the cache",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app, out *OutputFormatter) error {
				res, err := a.svc.Sync(cmd.Context())
				if err != nil {
					return out.Fail(err, res)
				}
				return out.Render(res, func(w io.Writer) { printSync(w, res) })
			})
		},
	}
}

// tandaCommand builds a command taking a single tanda id.
func tandaCommand(rootOpts *RootOptions, use, short string, fn func(a *app, cmd *cobra.Command, id string, out *OutputFormatter) error) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app, out *OutputFormatter) error {
				return fn(a, cmd, args[0], out)
			})
		},
	}
}

func printTandas(w io.Writer, ts []tanda.Tanda) {
	if len(ts) == 0 {
		fmt.Fprintln(w, "No tandas.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCYCLE\tMEMBERS\tAMOUNT")
	for _, t := range ts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d/%d\t%s\n",
			t.ID, t.Name, t.Status, t.CurrentCycle, t.TotalCycles,
			len(t.Participants), t.MaxParticipants, t.Amount)
	}
	tw.Flush()
}

func printPreview(w io.Writer, id string, p cycle.AdvancePreview) {
	fmt.Fprintf(w, "%s: %s\n", id, p.Decision)
	for _, wallet := range p.Expel {
		fmt.Fprintf(w, "  would expel %s\n", wallet)
	}
	if p.WillPayout {
		fmt.Fprintf(w, "  would pay %s to %s\n", p.Payout, p.Beneficiary)
	}
}

func printAdvance(w io.Writer, id string, o orchestrator.AdvanceOutcome) {
	if !o.Forwarded {
		fmt.Fprintf(w, "%s: %s, nothing sent to the ledger\n", id, o.Decision)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", id, o.Decision)
	for _, wallet := range o.Result.Expelled {
		fmt.Fprintf(w, "  expelled %s\n", wallet)
	}
	if o.Result.PaidTo != "" {
		fmt.Fprintf(w, "  paid %s to %s\n", o.Result.Payout, o.Result.PaidTo)
	}
	fmt.Fprintf(w, "  now %s, cycle %d of %d\n", o.Result.Tanda.Status, o.Result.Tanda.CurrentCycle, o.Result.Tanda.TotalCycles)
}

func printSchedule(w io.Writer, items []cycle.PaymentScheduleItem) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tBENEFICIARY\tDUE\tAMOUNT\tSTATUS")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", it.Cycle, it.Beneficiary, it.DueAt.Format(time.DateOnly), it.Amount, it.Status)
	}
	tw.Flush()
}

func printNext(w io.Writer, n cycle.NextPaymentInfo) {
	switch {
	case n.HasDeposited:
		fmt.Fprintf(w, "Cycle %d paid.\n", n.Cycle)
	case n.Overdue:
		fmt.Fprintf(w, "Cycle %d: %s overdue since %s\n", n.Cycle, n.Amount, n.DueAt.Format(time.DateOnly))
	default:
		fmt.Fprintf(w, "Cycle %d: %s due in %d days\n", n.Cycle, n.Amount, n.DaysRemaining)
	}
}

func printSync(w io.Writer, res orchestrator.SyncResult) {
	for _, p := range res.Published {
		fmt.Fprintf(w, "Published %s as %s\n", p.LocalID, p.ID)
	}
	if res.Deferred > 0 {
		fmt.Fprintf(w, "%d provisional tanda(s) waiting for the ledger\n", res.Deferred)
	}
	if res.Rejected > 0 {
		fmt.Fprintf(w, "%d provisional tanda(s) rejected by the ledger, kept locally\n", res.Rejected)
	}
	fmt.Fprintf(w, "Synced: %d remote, %d local only\n", res.Report.Remote, res.Report.LocalOnly)
}

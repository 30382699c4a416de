package ctl

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/timex"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				if err := b.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Migrations applied.")
				return nil
			})
		},
	}
}

func (c *cli) checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <isbn> <card-id>",
		Short: "Lend a book to a borrower",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				res, err := b.Circulation().Checkout(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Book checked out successfully. Loan %d due %s.\n", res.LoanID, timex.FormatDate(res.DueDate))
				return nil
			})
		},
	}
}

func (c *cli) checkinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <loan-id>...",
		Short: "Return one or more loans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("%w: loan id %q", common.ErrInvalidArgument, a)
				}
				ids = append(ids, id)
			}

			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				results, err := b.Circulation().CheckIn(ctx, ids)
				if err != nil {
					return err
				}
				failed := 0
				for _, r := range results {
					fmt.Fprintf(out, "loan %d: %s\n", r.LoanID, r.Message)
					if r.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d check-ins failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Find open loans by isbn, card id or borrower name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				loans, err := b.Circulation().SearchActiveLoans(ctx, args[0])
				if err != nil {
					return err
				}
				if len(loans) == 0 {
					fmt.Fprintln(out, "No active loans found.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "LOAN\tISBN\tTITLE\tCARD\tBORROWER\tOUT\tDUE")
				for _, l := range loans {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", l.LoanID, l.ISBN, l.Title, l.CardID, l.BorrowerName,
						timex.FormatDate(l.DateOut), timex.FormatDate(l.DueDate))
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) loansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loans <card-id>",
		Short: "Show a borrower's loan history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				loans, err := b.Circulation().BorrowerLoans(ctx, args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "LOAN\tISBN\tTITLE\tOUT\tDUE\tIN")
				for _, l := range loans {
					in := "-"
					if l.DateIn != nil {
						in = timex.FormatDate(*l.DateIn)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", l.LoanID, l.ISBN, l.Title,
						timex.FormatDate(l.DateOut), timex.FormatDate(l.DueDate), in)
				}
				return tw.Flush()
			})
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute fines for overdue loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				res, err := b.Fines().Reconcile(ctx)
				if res != nil {
					fmt.Fprintf(out, "inserted=%d updated=%d skipped_paid=%d\n", res.Inserted, res.Updated, res.SkippedPaid)
				}
				return err
			})
		},
	}
}

func (c *cli) finesCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "fines",
		Short: "List fines grouped by borrower",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				groups, err := b.Fines().ListByBorrower(ctx, all)
				if err != nil {
					return err
				}
				if len(groups) == 0 {
					fmt.Fprintln(out, "No fines.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				for _, g := range groups {
					fmt.Fprintf(tw, "%s\t%s\ttotal %s\n", g.CardID, g.Name, g.Total.StringFixed(2))
					for _, d := range g.Details {
						state := "unpaid"
						if d.Paid {
							state = "paid"
						}
						fmt.Fprintf(tw, "  loan %d\t%s\t%s\t%s\n", d.LoanID, d.Title, d.Amount.StringFixed(2), state)
					}
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include paid fines")
	return cmd
}

func (c *cli) payCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <card-id>",
		Short: "Pay every unpaid fine of a borrower",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				res, err := b.Fines().PayAll(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Paid %d fine(s).\n", res.PaidCount)
				return nil
			})
		},
	}
}

func (c *cli) totalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "total <card-id>",
		Short: "Show a borrower's unpaid fine total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, b Backend, out io.Writer) error {
				total, err := b.Fines().UnpaidTotal(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\n", args[0], total.StringFixed(2))
				return nil
			})
		},
	}
}

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"budgettracker/internal/models"
	"budgettracker/internal/report"
)

const noExpenseData = "No expense data to show"

func newSummaryCmd(a *app) *cobra.Command {
	var filters filterFlags
	var byMonth bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show income, expense and balance totals with a category breakdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			items := filters.filter().Apply(s.ctrl.Items())
			if byMonth {
				for _, g := range report.GroupByMonth(items) {
					fmt.Fprintf(a.out, "%s\n", g.Month)
					printTotals(a.out, g.Summary)
					fmt.Fprintln(a.out)
				}
				return nil
			}
			printTotals(a.out, report.Summarize(items))
			fmt.Fprintln(a.out)
			printBreakdown(a.out, report.CategoryBreakdown(items))
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().BoolVar(&byMonth, "by-month", false, "show totals per month")
	return cmd
}

func printTotals(w io.Writer, s report.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Income\t%s\t\n", report.Money(s.Income))
	fmt.Fprintf(tw, "Expenses\t%s\t\n", report.Money(s.Expense))
	fmt.Fprintf(tw, "Balance\t%s\t\n", report.Money(s.Balance))
	_ = tw.Flush()
}

func printBreakdown(w io.Writer, totals []report.CategoryTotal) {
	fmt.Fprintln(w, "Category Breakdown")
	if len(totals) == 0 {
		fmt.Fprintln(w, noExpenseData)
		return
	}
	sum := decimal.Zero
	for _, c := range totals {
		sum = sum.Add(c.Total)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range totals {
		share := decimal.Zero
		if !sum.IsZero() {
			share = c.Total.Div(sum).Mul(decimal.NewFromInt(100))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%%\n", c.Category, report.Money(c.Total), share.StringFixed(1))
	}
	_ = tw.Flush()
}

// signed renders an amount the way the list shows it: income positive,
// expense negative.
func signed(t models.Transaction) string {
	if t.Type == models.TransactionTypeIncome {
		return "+" + report.Money(t.Amount)
	}
	return "-" + report.Money(t.Amount)
}

func printTransactions(w io.Writer, items []models.Transaction) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTYPE\tCATEGORY\tAMOUNT\tNOTE\tID")
	for _, t := range items {
		id := t.ID
		if t.IsPlaceholder() {
			id = "(pending)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.Date, t.Type, t.Category, signed(t), oneLine(t.Note), id)
	}
	_ = tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// printWatchLine is the one-line status printed on every list change.
func printWatchLine(w io.Writer, now time.Time, items []models.Transaction) {
	s := report.Summarize(items)
	pending := 0
	for _, t := range items {
		if t.IsPlaceholder() {
			pending++
		}
	}
	line := fmt.Sprintf("[%s] %d transactions  income %s  expenses %s  balance %s",
		now.Format(time.TimeOnly), len(items), report.Money(s.Income), report.Money(s.Expense), report.Money(s.Balance))
	if pending > 0 {
		line += fmt.Sprintf("  (%d pending)", pending)
	}
	fmt.Fprintln(w, line)
}

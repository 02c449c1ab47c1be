package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"budgettracker/internal/csvio"
	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/identity"
	"budgettracker/internal/logger"
	"budgettracker/internal/models"
	"budgettracker/internal/report"
)

// settleTimeout bounds how long write commands wait for the realtime
// snapshot that confirms them.
const settleTimeout = 5 * time.Second

type filterFlags struct {
	txType   string
	category string
	query    string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.txType, "type", "all", "all, income or expense")
	cmd.Flags().StringVar(&f.category, "category", "all", "category name or all")
	cmd.Flags().StringVarP(&f.query, "search", "s", "", "match category, note, date or amount")
}

func (f *filterFlags) filter() report.Filter {
	return report.Filter{
		Type:     strings.ToLower(f.txType),
		Category: f.category,
		Query:    strings.TrimSpace(f.query),
	}
}

func newListCmd(a *app) *cobra.Command {
	var filters filterFlags
	var byMonth bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			items := s.ctrl.Items()
			shown := filters.filter().Apply(items)
			if len(shown) == 0 {
				fmt.Fprintln(a.out, "No transactions found")
			} else if byMonth {
				for _, g := range report.GroupByMonth(shown) {
					fmt.Fprintf(a.out, "%s  balance %s\n", g.Month, report.Money(g.Summary.Balance))
					printTransactions(a.out, g.Transactions)
					fmt.Fprintln(a.out)
				}
			} else {
				printTransactions(a.out, shown)
			}
			fmt.Fprintf(a.out, "Showing %d of %d transactions\n", len(shown), len(items))
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().BoolVar(&byMonth, "by-month", false, "group transactions by month")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var amount, txType, category, date, note string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an income or expense",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := parseInput(amount, txType, category, date, note)
			if err != nil {
				return err
			}

			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.ctrl.Add(cmd.Context(), input); err != nil {
				return err
			}
			s.waitSettled(cmd.Context(), settleTimeout)

			input = input.WithDefaults(time.Now())
			fmt.Fprintf(a.out, "Added %s of %s (%s, %s)\n", input.Type, report.Money(input.Amount), input.Category, input.Date)
			return nil
		},
	}
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "positive amount, e.g. 12.50")
	cmd.Flags().StringVarP(&txType, "type", "t", string(models.TransactionTypeExpense), "income or expense")
	cmd.Flags().StringVarP(&category, "category", "c", "", "category (default General)")
	cmd.Flags().StringVarP(&date, "date", "d", "", "date as YYYY-MM-DD (default today)")
	cmd.Flags().StringVarP(&note, "note", "n", "", "free-form note")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// parseInput validates add flags before any network call.
func parseInput(amount, txType, category, date, note string) (models.NewTransaction, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return models.NewTransaction{}, apperrors.WithMessage(apperrors.ErrInvalidAmount, fmt.Sprintf("invalid amount %q", amount))
	}
	input := models.NewTransaction{
		Amount:   value,
		Type:     models.TransactionType(strings.ToLower(strings.TrimSpace(txType))),
		Category: category,
		Date:     strings.TrimSpace(date),
		Note:     note,
	}
	if err := input.Validate(); err != nil {
		return models.NewTransaction{}, err
	}
	return input, nil
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete transactions by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			for _, id := range args {
				if err := s.ctrl.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
				fmt.Fprintf(a.out, "Deleted %s\n", id)
			}
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var filters filterFlags
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the (filtered) transaction list as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			shown := filters.filter().Apply(s.ctrl.Items())
			doc := csvio.Export(shown) + "\n"
			if output == "" || output == "-" {
				_, err := io.WriteString(a.out, doc)
				return err
			}
			if err := os.WriteFile(output, []byte(doc), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(a.out, "Exported %d transactions to %s\n", len(shown), output)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import transactions from a CSV file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			parsed, err := csvio.Import(r, time.Now())
			if err != nil {
				return apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error())
			}

			s, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			imported, failed := addAll(cmd.Context(), s, parsed.Rows)
			s.waitSettled(cmd.Context(), settleTimeout)

			fmt.Fprintf(a.out, "Imported %d transactions (%d skipped, %d failed)\n", imported, parsed.Skipped, failed)
			if failed > 0 {
				return fmt.Errorf("%d rows could not be saved", failed)
			}
			return nil
		},
	}
}

// addAll adds rows one at a time, in file order.
func addAll(ctx context.Context, s *liveSession, rows []models.NewTransaction) (imported, failed int) {
	for i, row := range rows {
		if ctx.Err() != nil {
			return imported, failed + len(rows) - i
		}
		if _, err := s.ctrl.Add(ctx, row); err != nil {
			logger.Get().Warnw("import row failed", "row", i+1, "error", err)
			failed++
			continue
		}
		imported++
	}
	return imported, failed
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow realtime changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			printWatchLine(a.out, time.Now(), s.ctrl.Items())
			removeList := s.ctrl.OnChange(func(items []models.Transaction) {
				printWatchLine(a.out, time.Now(), items)
			})
			defer removeList()

			removeSession := s.observer.OnChange(func(u *identity.User, loading bool) {
				if u == nil {
					fmt.Fprintln(a.out, "Signed out")
				}
				if err := s.ctrl.HandleSession(ctx, u, loading); err != nil {
					logger.Get().Warnw("session change failed", "error", err)
				}
			})
			defer removeSession()

			<-ctx.Done()
			return nil
		},
	}
}

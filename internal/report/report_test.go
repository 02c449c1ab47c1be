package report

import (
	"testing"

	"github.com/shopspring/decimal"

	"budgettracker/internal/models"
)

func mk(id, date, category, amount, note string, txType models.TransactionType) models.Transaction {
	return models.Transaction{
		Base:     models.Base{ID: id},
		Amount:   decimal.RequireFromString(amount),
		Category: category,
		Date:     date,
		Note:     note,
		Type:     txType,
	}
}

func fixture() []models.Transaction {
	return []models.Transaction{
		mk("1", "2024-03-10", "Salary", "1000", "March pay", models.TransactionTypeIncome),
		mk("2", "2024-03-05", "Food", "12.50", "Lunch", models.TransactionTypeExpense),
		mk("3", "2024-02-20", "Rent", "500", "", models.TransactionTypeExpense),
		mk("4", "2024-02-02", "Food", "7.25", "Coffee beans", models.TransactionTypeExpense),
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(fixture())

	if Money(s.Income) != "1000.00" {
		t.Errorf("expected income 1000.00, got %s", Money(s.Income))
	}
	if Money(s.Expense) != "519.75" {
		t.Errorf("expected expense 519.75, got %s", Money(s.Expense))
	}
	if Money(s.Balance) != "480.25" {
		t.Errorf("expected balance 480.25, got %s", Money(s.Balance))
	}

	empty := Summarize(nil)
	if Money(empty.Balance) != "0.00" {
		t.Errorf("expected zero balance, got %s", Money(empty.Balance))
	}
}

func TestCategoryBreakdown(t *testing.T) {
	got := CategoryBreakdown(fixture())

	if len(got) != 2 {
		t.Fatalf("expected 2 expense categories, got %d", len(got))
	}
	if got[0].Category != "Food" || Money(got[0].Total) != "19.75" {
		t.Errorf("expected Food 19.75 first, got %s %s", got[0].Category, Money(got[0].Total))
	}
	if got[1].Category != "Rent" || Money(got[1].Total) != "500.00" {
		t.Errorf("expected Rent 500.00 second, got %s %s", got[1].Category, Money(got[1].Total))
	}

	onlyIncome := []models.Transaction{mk("1", "2024-01-01", "Salary", "1", "", models.TransactionTypeIncome)}
	if len(CategoryBreakdown(onlyIncome)) != 0 {
		t.Error("income must not appear in the breakdown")
	}
}

func TestFilter(t *testing.T) {
	items := fixture()
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"zero_value", Filter{}, []string{"1", "2", "3", "4"}},
		{"type_all", Filter{Type: "all"}, []string{"1", "2", "3", "4"}},
		{"type_income", Filter{Type: "income"}, []string{"1"}},
		{"category", Filter{Category: "Food"}, []string{"2", "4"}},
		{"category_All", Filter{Category: "All"}, []string{"1", "2", "3", "4"}},
		{"query_note_case_insensitive", Filter{Query: "COFFEE"}, []string{"4"}},
		{"query_date", Filter{Query: "2024-02"}, []string{"3", "4"}},
		{"query_amount", Filter{Query: "12.5"}, []string{"2"}},
		{"combined", Filter{Type: "expense", Category: "Food", Query: "lunch"}, []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply(items)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %d items", tt.want, len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestCategories(t *testing.T) {
	got := Categories(fixture())
	want := []string{"All", "Food", "Rent", "Salary"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if got := Categories(nil); len(got) != 1 || got[0] != "All" {
		t.Errorf("expected only All for an empty list, got %v", got)
	}
}

func TestGroupByMonth(t *testing.T) {
	groups := GroupByMonth(fixture())

	if len(groups) != 2 {
		t.Fatalf("expected 2 months, got %d", len(groups))
	}
	if groups[0].Month != "2024-03" || groups[1].Month != "2024-02" {
		t.Errorf("expected newest month first, got %s, %s", groups[0].Month, groups[1].Month)
	}
	if len(groups[1].Transactions) != 2 || groups[1].Transactions[0].ID != "3" {
		t.Errorf("unexpected February group: %+v", groups[1].Transactions)
	}
	if Money(groups[0].Summary.Balance) != "987.50" {
		t.Errorf("expected March balance 987.50, got %s", Money(groups[0].Summary.Balance))
	}
}

// Package report derives read-only views from a transaction list: totals, the
// expense breakdown by category, filtering and month grouping.
package report

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"budgettracker/internal/models"
)

// AllCategories selects every category in a Filter and leads Categories.
const AllCategories = "All"

// Summary holds income and expense totals.
type Summary struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Balance decimal.Decimal `json:"balance"`
}

// Summarize totals items by type. Balance is income minus expense.
func Summarize(items []models.Transaction) Summary {
	var s Summary
	for _, t := range items {
		switch t.Type {
		case models.TransactionTypeIncome:
			s.Income = s.Income.Add(t.Amount)
		case models.TransactionTypeExpense:
			s.Expense = s.Expense.Add(t.Amount)
		}
	}
	s.Balance = s.Income.Sub(s.Expense)
	return s
}

// CategoryTotal is the expense total of one category.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// CategoryBreakdown totals expenses per category in first-seen order.
// Income is ignored. An empty result means there is no expense data to show.
func CategoryBreakdown(items []models.Transaction) []CategoryTotal {
	index := make(map[string]int)
	out := []CategoryTotal{}
	for _, t := range items {
		if t.Type != models.TransactionTypeExpense {
			continue
		}
		i, ok := index[t.Category]
		if !ok {
			i = len(out)
			index[t.Category] = i
			out = append(out, CategoryTotal{Category: t.Category})
		}
		out[i].Total = out[i].Total.Add(t.Amount)
	}
	return out
}

// Filter narrows a list. Zero values select everything.
type Filter struct {
	// Type is "all", "income" or "expense".
	Type string
	// Category is "all", "All" or an exact category name.
	Category string
	// Query matches case-insensitively against category, note, date and amount.
	Query string
}

// Apply returns the items matching f, preserving order.
func (f Filter) Apply(items []models.Transaction) []models.Transaction {
	q := strings.ToLower(f.Query)
	out := make([]models.Transaction, 0, len(items))
	for _, t := range items {
		if f.Type != "" && f.Type != "all" && string(t.Type) != f.Type {
			continue
		}
		if f.Category != "" && f.Category != "all" && f.Category != AllCategories && t.Category != f.Category {
			continue
		}
		if q != "" && !matches(t, q) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matches(t models.Transaction, q string) bool {
	return strings.Contains(strings.ToLower(t.Category), q) ||
		strings.Contains(strings.ToLower(t.Note), q) ||
		strings.Contains(strings.ToLower(t.Date), q) ||
		strings.Contains(t.Amount.String(), q)
}

// Categories lists AllCategories followed by the distinct categories, sorted.
func Categories(items []models.Transaction) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, t := range items {
		if _, ok := seen[t.Category]; ok {
			continue
		}
		seen[t.Category] = struct{}{}
		names = append(names, t.Category)
	}
	sort.Strings(names)
	return append([]string{AllCategories}, names...)
}

// MonthGroup is the transactions of one calendar month.
type MonthGroup struct {
	Month        string               `json:"month"`
	Transactions []models.Transaction `json:"transactions"`
	Summary      Summary              `json:"summary"`
}

// GroupByMonth buckets items by the YYYY-MM prefix of their date, newest month
// first. Items keep their relative order within a month.
func GroupByMonth(items []models.Transaction) []MonthGroup {
	index := make(map[string]int)
	var groups []MonthGroup
	for _, t := range items {
		month := t.Date
		if len(month) >= 7 {
			month = month[:7]
		}
		i, ok := index[month]
		if !ok {
			i = len(groups)
			index[month] = i
			groups = append(groups, MonthGroup{Month: month})
		}
		groups[i].Transactions = append(groups[i].Transactions, t)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Month > groups[j].Month })
	for i := range groups {
		groups[i].Summary = Summarize(groups[i].Transactions)
	}
	return groups
}

// Money formats d with two decimals.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

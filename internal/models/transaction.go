package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "budgettracker/internal/errors"
)

// TransactionType represents the type of transaction
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

const (
	// DefaultCategory is used when a transaction is recorded without one.
	DefaultCategory = "General"

	// DateLayout is the ISO-8601 calendar date format used for Transaction.Date.
	DateLayout = "2006-01-02"

	// PlaceholderPrefix marks locally synthesized, not yet persisted transaction ids.
	PlaceholderPrefix = "temp-"
)

// Valid reports whether t is one of the supported transaction types.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// NormalizeType maps anything other than an exact "income" to expense.
func NormalizeType(s string) TransactionType {
	if s == string(TransactionTypeIncome) {
		return TransactionTypeIncome
	}
	return TransactionTypeExpense
}

// IsPlaceholderID reports whether id belongs to an unconfirmed local record.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Today returns the calendar date of now in DateLayout.
func Today(now time.Time) string {
	return now.UTC().Format(DateLayout)
}

// Transaction is a single income or expense entry owned by exactly one user.
// Snapshots are ordered by Date descending.
type Transaction struct {
	Base
	UserID   string          `gorm:"type:uuid;not null;index:idx_transactions_owner_date,priority:1" json:"user_id"`
	Amount   decimal.Decimal `gorm:"type:numeric;not null" json:"amount"`
	Category string          `gorm:"not null" json:"category"`
	Date     string          `gorm:"size:10;not null;index:idx_transactions_owner_date,priority:2" json:"date"`
	Note     string          `json:"note"`
	Type     TransactionType `gorm:"not null" json:"type"`
}

// IsPlaceholder reports whether the record has not been confirmed by the store yet.
func (t Transaction) IsPlaceholder() bool {
	return IsPlaceholderID(t.ID)
}

// Same reports whether two records carry identical user-visible content.
func (t Transaction) Same(o Transaction) bool {
	return t.ID == o.ID &&
		t.UserID == o.UserID &&
		t.Amount.Equal(o.Amount) &&
		t.Category == o.Category &&
		t.Date == o.Date &&
		t.Note == o.Note &&
		t.Type == o.Type
}

// NewTransaction is a transaction that has not been assigned an id yet.
type NewTransaction struct {
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category"`
	Date     string          `json:"date"`
	Note     string          `json:"note"`
	Type     TransactionType `json:"type"`
}

// WithDefaults fills in the category and date when they are absent.
func (n NewTransaction) WithDefaults(now time.Time) NewTransaction {
	n.Category = strings.TrimSpace(n.Category)
	if n.Category == "" {
		n.Category = DefaultCategory
	}
	n.Date = strings.TrimSpace(n.Date)
	if n.Date == "" {
		n.Date = Today(now)
	}
	return n
}

// Validate rejects zero amounts, unknown types and malformed dates.
func (n NewTransaction) Validate() error {
	if n.Amount.IsZero() {
		return apperrors.ErrInvalidAmount
	}
	if !n.Type.Valid() {
		return apperrors.ErrInvalidTransactionType
	}
	if n.Date != "" {
		if _, err := time.Parse(DateLayout, n.Date); err != nil {
			return apperrors.WithMessage(apperrors.ErrInvalidDate, fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", n.Date))
		}
	}
	return nil
}

// Record builds the stored (or placeholder) form of n for the given owner.
func (n NewTransaction) Record(id, ownerID string) Transaction {
	return Transaction{
		Base:     Base{ID: id},
		UserID:   ownerID,
		Amount:   n.Amount,
		Category: n.Category,
		Date:     n.Date,
		Note:     n.Note,
		Type:     n.Type,
	}
}

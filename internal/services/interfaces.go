package services

import (
	"context"

	"budgettracker/internal/models"
	"budgettracker/internal/pagination"
)

// UserServicer defines the contract for user-related business logic.
type UserServicer interface {
	CreateUser(ctx context.Context, email, password, displayName string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	VerifyPassword(user *models.User, password string) bool
	AttemptLogin(ctx context.Context, email, password string) (*models.User, error)
	StoreRefreshTokenHash(ctx context.Context, userID, tokenHash string) error
	GetRefreshTokenHash(ctx context.Context, userID string) (string, error)
}

// TransactionFilter holds optional filter parameters for listing transactions.
// Empty fields do not filter.
type TransactionFilter struct {
	FromDate string
	ToDate   string
	Type     *models.TransactionType
	Category string
	Query    string
}

// IsZero reports whether the filter selects every transaction.
func (f TransactionFilter) IsZero() bool {
	return f.FromDate == "" && f.ToDate == "" && f.Type == nil && !hasCategory(f.Category) && f.Query == ""
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// TransactionServicer defines the contract for transaction-related business logic.
// Every method is scoped to the owning user.
type TransactionServicer interface {
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]models.Transaction, error)
	SearchTransactions(ctx context.Context, userID string, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error)
	CreateTransaction(ctx context.Context, userID string, input models.NewTransaction) (*models.Transaction, error)
	ImportTransactions(ctx context.Context, userID string, inputs []models.NewTransaction) (*ImportResult, error)
	GetTransactionByID(ctx context.Context, userID, transactionID string) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, transactionID string) error
}

// ChangeNotifier is told whenever an owner's transactions change.
type ChangeNotifier interface {
	Publish(ctx context.Context, ownerID string) error
}

// AuditServicer defines the contract for audit logging.
type AuditServicer interface {
	Record(ctx context.Context, entry AuditEntry)
}

package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"budgettracker/internal/cache"
	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/logger"
	"budgettracker/internal/models"
	"budgettracker/internal/pagination"
)

// snapshotOrder is the canonical ordering of a transaction snapshot.
const snapshotOrder = "date DESC, created_at DESC, id DESC"

// transactionService handles transaction-related business logic.
type transactionService struct {
	db       *gorm.DB
	cache    *cache.SnapshotCache
	notifier ChangeNotifier
	now      func() time.Time
}

// NewTransactionService creates a new TransactionServicer. snapshots and
// notifier may be nil.
func NewTransactionService(db *gorm.DB, snapshots *cache.SnapshotCache, notifier ChangeNotifier) TransactionServicer {
	return &transactionService{
		db:       db,
		cache:    snapshots,
		notifier: notifier,
		now:      time.Now,
	}
}

// ListTransactions returns every matching transaction for the user, date descending.
// Unfiltered lists are served from the snapshot cache when possible.
func (s *transactionService) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]models.Transaction, error) {
	if userID == "" {
		return nil, apperrors.ErrAuthRequired
	}

	cacheable := filter.IsZero()
	if cacheable {
		if items, ok := s.cache.Get(userID); ok {
			return items, nil
		}
	}
	version := s.cache.Version(userID)

	transactions := []models.Transaction{}
	q := applyTransactionFilters(s.db.WithContext(ctx).Where("user_id = ?", userID), filter)
	if err := q.Order(snapshotOrder).Find(&transactions).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	if cacheable {
		s.cache.Set(userID, version, transactions)
	}
	return transactions, nil
}

// SearchTransactions retrieves a paginated, filtered list of the user's transactions.
func (s *transactionService) SearchTransactions(ctx context.Context, userID string, page pagination.PageRequest, filter TransactionFilter) (*pagination.PageResponse[models.Transaction], error) {
	if userID == "" {
		return nil, apperrors.ErrAuthRequired
	}

	page.Defaults()

	base := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)
	base = applyTransactionFilters(base, filter)

	var totalItems int64
	if err := base.Count(&totalItems).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var transactions []models.Transaction
	if err := base.Scopes(pagination.Paginate(page)).
		Order(snapshotOrder).
		Find(&transactions).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result := pagination.NewPageResponse(transactions, page.Page, page.PageSize, totalItems)
	return &result, nil
}

func hasCategory(category string) bool {
	return category != "" && !strings.EqualFold(category, "all")
}

func applyTransactionFilters(q *gorm.DB, f TransactionFilter) *gorm.DB {
	if f.FromDate != "" {
		q = q.Where("date >= ?", f.FromDate)
	}
	if f.ToDate != "" {
		q = q.Where("date <= ?", f.ToDate)
	}
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if hasCategory(f.Category) {
		q = q.Where("category = ?", f.Category)
	}
	if query := strings.ToLower(strings.TrimSpace(f.Query)); query != "" {
		like := "%" + query + "%"
		q = q.Where(
			"LOWER(category) LIKE ? OR LOWER(note) LIKE ? OR date LIKE ? OR CAST(amount AS TEXT) LIKE ?",
			like, like, like, like,
		)
	}
	return q
}

// CreateTransaction validates, defaults and persists a transaction for the user.
func (s *transactionService) CreateTransaction(ctx context.Context, userID string, input models.NewTransaction) (*models.Transaction, error) {
	if userID == "" {
		return nil, apperrors.ErrAuthRequired
	}

	input = input.WithDefaults(s.now())
	if err := input.Validate(); err != nil {
		return nil, err
	}

	transaction := input.Record("", userID)
	if err := s.db.WithContext(ctx).Create(&transaction).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	s.changed(ctx, userID)
	return &transaction, nil
}

// ImportTransactions persists every valid input in a single database
// transaction. Invalid inputs are counted as skipped.
func (s *transactionService) ImportTransactions(ctx context.Context, userID string, inputs []models.NewTransaction) (*ImportResult, error) {
	if userID == "" {
		return nil, apperrors.ErrAuthRequired
	}

	now := s.now()
	result := &ImportResult{}
	records := make([]models.Transaction, 0, len(inputs))
	for _, input := range inputs {
		input = input.WithDefaults(now)
		if err := input.Validate(); err != nil {
			result.Skipped++
			continue
		}
		records = append(records, input.Record("", userID))
	}
	if len(records) == 0 {
		return result, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range records {
			if err := tx.Create(&records[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	result.Imported = len(records)
	s.changed(ctx, userID)
	return result, nil
}

// GetTransactionByID retrieves a transaction by ID for a specific user
func (s *transactionService) GetTransactionByID(ctx context.Context, userID, transactionID string) (*models.Transaction, error) {
	if userID == "" {
		return nil, apperrors.ErrAuthRequired
	}
	if _, err := uuid.Parse(transactionID); err != nil {
		return nil, apperrors.ErrTransactionNotFound
	}

	var transaction models.Transaction
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", transactionID, userID).First(&transaction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &transaction, nil
}

// DeleteTransaction removes one of the user's transactions.
func (s *transactionService) DeleteTransaction(ctx context.Context, userID, transactionID string) error {
	transaction, err := s.GetTransactionByID(ctx, userID, transactionID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(transaction).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	s.changed(ctx, userID)
	return nil
}

// changed drops the cached snapshot and tells subscribers to reload.
func (s *transactionService) changed(ctx context.Context, userID string) {
	s.cache.Invalidate(userID)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(context.WithoutCancel(ctx), userID); err != nil {
		logger.Get().Warnw("failed to publish transaction change", "user_id", userID, "error", err)
	}
}

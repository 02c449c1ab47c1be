package services

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"budgettracker/internal/logger"
	"budgettracker/internal/models"
)

// AuditEntry describes one audited operation.
type AuditEntry struct {
	UserID        string
	Action        models.AuditAction
	TransactionID string
	IPAddress     string
	Details       map[string]any
}

type auditService struct {
	db *gorm.DB
}

// NewAuditService creates a new AuditServicer.
func NewAuditService(db *gorm.DB) AuditServicer {
	return &auditService{db: db}
}

// Record writes e to the audit trail. Failures are logged and swallowed so
// that auditing never fails the request it describes.
func (s *auditService) Record(ctx context.Context, e AuditEntry) {
	row := &models.AuditLog{
		UserID:        e.UserID,
		Action:        e.Action,
		TransactionID: e.TransactionID,
		IPAddress:     e.IPAddress,
	}
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			logger.Get().Warnw("dropping unencodable audit details", "action", e.Action, "error", err)
		} else {
			row.Details = string(data)
		}
	}

	// The request context may already be cancelled once the response is out.
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(row).Error; err != nil {
		logger.Get().Errorw("failed to record audit entry",
			"error", err,
			"user_id", e.UserID,
			"action", e.Action,
			"transaction_id", e.TransactionID,
		)
	}
}

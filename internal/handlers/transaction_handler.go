package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"budgettracker/internal/csvio"
	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/logger"
	"budgettracker/internal/models"
	"budgettracker/internal/pagination"
	"budgettracker/internal/report"
	"budgettracker/internal/services"
)

const (
	defaultKeepAlive = 15 * time.Second
	maxImportBytes   = 5 << 20
)

// SnapshotSubscriber pushes an owner's full transaction list whenever it changes.
type SnapshotSubscriber interface {
	Subscribe(ownerID string, onSnapshot func([]models.Transaction), onError func(error)) (func(), error)
}

// TransactionHandler handles transaction-related requests
type TransactionHandler struct {
	transactionService services.TransactionServicer
	auditService       services.AuditServicer
	snapshots          SnapshotSubscriber
	keepAlive          time.Duration
	now                func() time.Time
}

// NewTransactionHandler creates a new TransactionHandler
func NewTransactionHandler(transactionService services.TransactionServicer, auditService services.AuditServicer, snapshots SnapshotSubscriber) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		auditService:       auditService,
		snapshots:          snapshots,
		keepAlive:          defaultKeepAlive,
		now:                time.Now,
	}
}

// CreateTransactionRequest represents the request body for creating a transaction
type CreateTransactionRequest struct {
	Amount   decimal.Decimal `json:"amount" swaggertype:"string" example:"12.50"`
	Type     string          `json:"type" binding:"required,transaction_type" example:"expense"`
	Category string          `json:"category" binding:"max=100" example:"Food"`
	Date     string          `json:"date" binding:"iso_date" example:"2024-03-01"`
	Note     string          `json:"note" binding:"max=500"`
}

// TransactionQuery holds the optional filters shared by search, export and summary.
type TransactionQuery struct {
	Type     string `form:"type" binding:"omitempty,transaction_type"`
	Category string `form:"category"`
	Query    string `form:"q"`
	FromDate string `form:"from_date" binding:"iso_date"`
	ToDate   string `form:"to_date" binding:"iso_date"`
}

func (q TransactionQuery) filter() services.TransactionFilter {
	f := services.TransactionFilter{
		FromDate: q.FromDate,
		ToDate:   q.ToDate,
		Category: q.Category,
		Query:    q.Query,
	}
	if q.Type != "" {
		t := models.TransactionType(q.Type)
		f.Type = &t
	}
	return f
}

// TransactionListResponse is the full, date-descending list of the caller's transactions.
type TransactionListResponse struct {
	Transactions []models.Transaction `json:"transactions"`
}

// CreatedResponse carries the id assigned to a new transaction.
type CreatedResponse struct {
	ID string `json:"id"`
}

// SummaryResponse holds the derived views of a transaction list.
type SummaryResponse struct {
	Summary    report.Summary         `json:"summary"`
	Categories []report.CategoryTotal `json:"categories"`
	Months     []report.MonthGroup    `json:"months"`
}

func (h *TransactionHandler) bindQuery(c *gin.Context) (services.TransactionFilter, bool) {
	var q TransactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return services.TransactionFilter{}, false
	}
	return q.filter(), true
}

// ListTransactions returns every transaction of the authenticated user
// @Summary     List transactions
// @Description Get all of the user's transactions, newest date first
// @Tags        transactions
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} TransactionListResponse "Transactions"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /transactions [get]
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	items, err := h.transactionService.ListTransactions(c.Request.Context(), userID, services.TransactionFilter{})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TransactionListResponse{Transactions: items})
}

// SearchTransactions returns a filtered page of transactions
// @Summary     Search transactions
// @Description Get a paginated, filtered list of the user's transactions
// @Tags        transactions
// @Produce     json
// @Security    BearerAuth
// @Param       type      query string false "income or expense"
// @Param       category  query string false "Exact category, or all"
// @Param       q         query string false "Matches category, note, date or amount"
// @Param       from_date query string false "Earliest date (YYYY-MM-DD)"
// @Param       to_date   query string false "Latest date (YYYY-MM-DD)"
// @Param       page      query int    false "Page number"
// @Param       page_size query int    false "Page size"
// @Success     200 {object} pagination.PageResponse[models.Transaction] "Transactions"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /transactions/search [get]
func (h *TransactionHandler) SearchTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}
	filter, ok := h.bindQuery(c)
	if !ok {
		return
	}

	result, err := h.transactionService.SearchTransactions(c.Request.Context(), userID, page, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateTransaction handles creation of a new transaction
// @Summary     Create transaction
// @Description Record an income or expense. Category defaults to General and date to today.
// @Tags        transactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body CreateTransactionRequest true "Transaction data"
// @Success     201 {object} CreatedResponse "Assigned id"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /transactions [post]
func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	tx, err := h.transactionService.CreateTransaction(c.Request.Context(), userID, models.NewTransaction{
		Amount:   req.Amount,
		Type:     models.TransactionType(req.Type),
		Category: req.Category,
		Date:     req.Date,
		Note:     req.Note,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Record(c.Request.Context(), services.AuditEntry{
		UserID:        userID,
		Action:        models.AuditCreateTransaction,
		TransactionID: tx.ID,
		IPAddress:     c.ClientIP(),
		Details:       map[string]any{"amount": tx.Amount.String(), "type": tx.Type},
	})
	c.JSON(http.StatusCreated, CreatedResponse{ID: tx.ID})
}

// GetTransactionByID returns a single transaction
// @Summary     Get transaction
// @Description Get one of the user's transactions by id
// @Tags        transactions
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Transaction ID"
// @Success     200 {object} models.Transaction "Transaction"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Transaction not found"
// @Router      /transactions/{id} [get]
func (h *TransactionHandler) GetTransactionByID(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	tx, err := h.transactionService.GetTransactionByID(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// DeleteTransaction removes a transaction
// @Summary     Delete transaction
// @Description Delete one of the user's transactions
// @Tags        transactions
// @Security    BearerAuth
// @Param       id path string true "Transaction ID"
// @Success     204 "Deleted"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Transaction not found"
// @Router      /transactions/{id} [delete]
func (h *TransactionHandler) DeleteTransaction(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	id := c.Param("id")
	if err := h.transactionService.DeleteTransaction(c.Request.Context(), userID, id); err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Record(c.Request.Context(), services.AuditEntry{
		UserID:        userID,
		Action:        models.AuditDeleteTransaction,
		TransactionID: id,
		IPAddress:     c.ClientIP(),
	})
	c.Status(http.StatusNoContent)
}

// StreamTransactions pushes the caller's full transaction list on every change
// @Summary     Stream transactions
// @Description Server-sent events: a "snapshot" event with the full list on connect and after every change
// @Tags        transactions
// @Produce     text/event-stream
// @Security    BearerAuth
// @Success     200 {object} TransactionListResponse "snapshot event payload"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     502 {object} ErrorResponse "Realtime channel unavailable"
// @Router      /transactions/stream [get]
func (h *TransactionHandler) StreamTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	// Only the newest pending snapshot matters to a slow reader.
	updates := make(chan []models.Transaction, 1)
	failed := make(chan error, 1)
	unsubscribe, err := h.snapshots.Subscribe(userID,
		func(items []models.Transaction) {
			select {
			case <-updates:
			default:
			}
			updates <- items
		},
		func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	)
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case items := <-updates:
			if items == nil {
				items = []models.Transaction{}
			}
			c.SSEvent("snapshot", TransactionListResponse{Transactions: items})
			c.Writer.Flush()
		case err := <-failed:
			logger.Get().Warnw("closing transaction stream", "user_id", userID, "error", err)
			c.SSEvent("error", ErrorResponse{Error: ErrorDetail{
				Code:    apperrors.ErrSubscription.Code,
				Message: apperrors.ErrSubscription.Message,
			}})
			c.Writer.Flush()
			return
		case <-ticker.C:
			if _, err := io.WriteString(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// ExportTransactions downloads matching transactions as CSV
// @Summary     Export transactions
// @Description Download the user's transactions as CSV with columns id,date,type,category,amount,note
// @Tags        transactions
// @Produce     text/csv
// @Security    BearerAuth
// @Param       type      query string false "income or expense"
// @Param       category  query string false "Exact category, or all"
// @Param       q         query string false "Matches category, note, date or amount"
// @Param       from_date query string false "Earliest date (YYYY-MM-DD)"
// @Param       to_date   query string false "Latest date (YYYY-MM-DD)"
// @Success     200 {string} string "CSV file"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /transactions/export [get]
func (h *TransactionHandler) ExportTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	filter, ok := h.bindQuery(c)
	if !ok {
		return
	}

	items, err := h.transactionService.ListTransactions(c.Request.Context(), userID, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}

	filename := fmt.Sprintf("transactions-%s.csv", models.Today(h.now()))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(csvio.Export(items)))
}

// ImportTransactions creates one transaction per valid CSV row
// @Summary     Import transactions
// @Description Upload a CSV file (multipart field "file" or a text/csv body). Invalid rows are skipped.
// @Tags        transactions
// @Accept      text/csv,multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       file formData file false "CSV file"
// @Success     200 {object} services.ImportResult "Import counts"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /transactions/import [post]
func (h *TransactionHandler) ImportTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	var body io.Reader = io.LimitReader(c.Request.Body, maxImportBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, "file is required"))
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
			return
		}
		defer f.Close()
		body = io.LimitReader(f, maxImportBytes)
	}

	parsed, err := csvio.Import(body, h.now())
	if err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	result, err := h.transactionService.ImportTransactions(c.Request.Context(), userID, parsed.Rows)
	if err != nil {
		respondWithError(c, err)
		return
	}
	result.Skipped += parsed.Skipped

	h.auditService.Record(c.Request.Context(), services.AuditEntry{
		UserID:    userID,
		Action:    models.AuditImport,
		IPAddress: c.ClientIP(),
		Details:   map[string]any{"imported": result.Imported, "skipped": result.Skipped},
	})
	c.JSON(http.StatusOK, result)
}

// GetSummary returns totals, the expense breakdown and month groups
// @Summary     Transaction summary
// @Description Income and expense totals, expense totals by category and month groups for matching transactions
// @Tags        transactions
// @Produce     json
// @Security    BearerAuth
// @Param       type      query string false "income or expense"
// @Param       category  query string false "Exact category, or all"
// @Param       q         query string false "Matches category, note, date or amount"
// @Param       from_date query string false "Earliest date (YYYY-MM-DD)"
// @Param       to_date   query string false "Latest date (YYYY-MM-DD)"
// @Success     200 {object} SummaryResponse "Summary"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /transactions/summary [get]
func (h *TransactionHandler) GetSummary(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	filter, ok := h.bindQuery(c)
	if !ok {
		return
	}

	items, err := h.transactionService.ListTransactions(c.Request.Context(), userID, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}

	months := report.GroupByMonth(items)
	if months == nil {
		months = []report.MonthGroup{}
	}
	c.JSON(http.StatusOK, SummaryResponse{
		Summary:    report.Summarize(items),
		Categories: report.CategoryBreakdown(items),
		Months:     months,
	})
}

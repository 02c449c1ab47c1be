package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"budgettracker/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// TestPassword is the plaintext password of every fixture user.
const TestPassword = "password123"

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// CreateTestUser creates a user with a hashed password and unique email.
func CreateTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	email := fmt.Sprintf("user%d@test.com", nextID())
	return CreateTestUserWithEmail(t, db, email)
}

// CreateTestUserWithEmail creates a user with the given email.
func CreateTestUserWithEmail(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:    email,
		Password: string(hash),
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateTestTransaction creates a transaction dated date for the user.
func CreateTestTransaction(t *testing.T, db *gorm.DB, userID string, txType models.TransactionType, amount string, date string) *models.Transaction {
	t.Helper()
	return CreateTestTransactionWithCategory(t, db, userID, txType, amount, date, models.DefaultCategory)
}

// CreateTestTransactionWithCategory creates a transaction with an explicit category.
func CreateTestTransactionWithCategory(t *testing.T, db *gorm.DB, userID string, txType models.TransactionType, amount, date, category string) *models.Transaction {
	t.Helper()

	tx := &models.Transaction{
		UserID:   userID,
		Amount:   decimal.RequireFromString(amount),
		Category: category,
		Date:     date,
		Note:     "Test transaction",
		Type:     txType,
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("failed to create test transaction: %v", err)
	}
	return tx
}

package testutil_test

import (
	"testing"

	"budgettracker/internal/errors"
	"budgettracker/internal/models"
	"budgettracker/internal/testutil"
)

func TestSetupTestDB(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	// Verify all tables exist by doing a simple count query on each model.
	var count int64
	for _, table := range []string{"users", "transactions", "audit_logs"} {
		if err := db.Table(table).Count(&count).Error; err != nil {
			t.Errorf("table %q should exist after migration: %v", table, err)
		}
	}
}

func TestSetupTestDB_isolated(t *testing.T) {
	first := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, first)
	second := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, second)

	testutil.CreateTestUser(t, first)

	var count int64
	second.Table("users").Count(&count)
	if count != 0 {
		t.Errorf("expected an empty second database, found %d users", count)
	}
}

func TestFixtures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	user := testutil.CreateTestUser(t, db)
	if user.ID == "" {
		t.Fatal("user should have an ID")
	}

	tx := testutil.CreateTestTransaction(t, db, user.ID, models.TransactionTypeIncome, "10.50", "2024-03-01")
	if tx.ID == "" {
		t.Fatal("transaction should have an ID")
	}
	if tx.Amount.String() != "10.5" {
		t.Errorf("expected amount 10.5, got %s", tx.Amount)
	}
	if tx.Category != models.DefaultCategory {
		t.Errorf("expected category %s, got %s", models.DefaultCategory, tx.Category)
	}
}

func TestAssertAppError(t *testing.T) {
	err := errors.WithMessage(errors.ErrTransactionNotFound, "custom message")
	testutil.AssertAppError(t, err, "TRANSACTION_NOT_FOUND")
}

func TestAssertNoError(t *testing.T) {
	testutil.AssertNoError(t, nil)
}

func TestAssertDates(t *testing.T) {
	a := models.Transaction{Date: "2024-03-02"}
	b := models.Transaction{Date: "2024-03-01"}
	testutil.AssertDates(t, []models.Transaction{a, b}, "2024-03-02", "2024-03-01")
}

package testutil

import (
	"errors"
	"testing"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/models"
)

// AssertAppError fails unless err carries the given AppError code.
func AssertAppError(t *testing.T, err error, code string) {
	t.Helper()

	var appErr *apperrors.AppError
	switch {
	case err == nil:
		t.Fatalf("expected error code %q, got nil", code)
	case !errors.As(err, &appErr):
		t.Fatalf("expected error code %q, got %T: %v", code, err, err)
	case appErr.Code != code:
		t.Errorf("expected error code %q, got %q (%s)", code, appErr.Code, appErr.Message)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertDates checks that items are exactly the given dates in order, which is
// how snapshot ordering is verified.
func AssertDates(t *testing.T, items []models.Transaction, dates ...string) {
	t.Helper()

	if len(items) != len(dates) {
		t.Fatalf("expected %d transactions, got %d", len(dates), len(items))
	}
	for i, d := range dates {
		if items[i].Date != d {
			t.Errorf("position %d: expected date %s, got %s", i, d, items[i].Date)
		}
	}
}

// Package store defines the transaction store contract used by the
// reconciliation controller, and an in-process implementation of it.
package store

import (
	"context"
	"errors"
	"net/http"
	"sync"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/models"
)

// Store is a persistent, realtime transaction store.
//
// FetchAll and subscription snapshots are ordered by date descending. Store
// failures are reported as STORE_ERROR, an empty owner as UNAUTHORIZED, and
// nothing is retried. Subscribe delivers a full snapshot right after
// subscribing and on every change; on a transport failure it calls onError
// once and stops. The returned unsubscribe function is safe to call many times.
type Store interface {
	FetchAll(ctx context.Context, ownerID string) ([]models.Transaction, error)
	Create(ctx context.Context, ownerID string, input models.NewTransaction) (string, error)
	Remove(ctx context.Context, id string) error
	Subscribe(ownerID string, onSnapshot func([]models.Transaction), onError func(error)) (func(), error)
}

// Wrap normalizes an error returned by a backend into the store taxonomy:
// authentication failures stay UNAUTHORIZED, client errors keep their code,
// and everything else becomes STORE_ERROR wrapping the cause.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch {
		case appErr.Code == apperrors.ErrStore.Code:
			return appErr
		case appErr.StatusCode == http.StatusUnauthorized:
			return apperrors.Wrap(apperrors.ErrAuthRequired, err)
		case appErr.StatusCode > 0 && appErr.StatusCode < http.StatusInternalServerError:
			return appErr
		}
	}
	return apperrors.Wrap(apperrors.ErrStore, err)
}

// Once makes an unsubscribe function idempotent.
func Once(fn func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if fn != nil {
				fn()
			}
		})
	}
}

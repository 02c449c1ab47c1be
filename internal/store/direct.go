package store

import (
	"context"
	"errors"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/models"
	"budgettracker/internal/realtime"
	"budgettracker/internal/services"
)

// Direct is a Store backed by the service layer and a realtime hub in the same
// process. Remove needs the owner, so a Direct value is bound to one owner with
// ForOwner before it deletes anything. A bound Direct refuses every other
// owner with FORBIDDEN; build a new one for each session.
type Direct struct {
	svc   services.TransactionServicer
	hub   *realtime.Hub
	owner string
}

// NewDirect creates an unbound in-process store.
func NewDirect(svc services.TransactionServicer, hub *realtime.Hub) *Direct {
	return &Direct{svc: svc, hub: hub}
}

// ForOwner returns a copy of d scoped to ownerID.
func (d *Direct) ForOwner(ownerID string) *Direct {
	return &Direct{svc: d.svc, hub: d.hub, owner: ownerID}
}

// checkOwner rejects an empty owner and, once bound, any owner but the bound one.
func (d *Direct) checkOwner(ownerID string) error {
	switch {
	case ownerID == "":
		return apperrors.ErrAuthRequired
	case d.owner != "" && ownerID != d.owner:
		return apperrors.ErrForbidden
	}
	return nil
}

// FetchAll returns the owner's snapshot.
func (d *Direct) FetchAll(ctx context.Context, ownerID string) ([]models.Transaction, error) {
	if err := d.checkOwner(ownerID); err != nil {
		return nil, err
	}
	items, err := d.svc.ListTransactions(ctx, ownerID, services.TransactionFilter{})
	if err != nil {
		return nil, Wrap(err)
	}
	return items, nil
}

// Create persists input and returns its id.
func (d *Direct) Create(ctx context.Context, ownerID string, input models.NewTransaction) (string, error) {
	if err := d.checkOwner(ownerID); err != nil {
		return "", err
	}
	tx, err := d.svc.CreateTransaction(ctx, ownerID, input)
	if err != nil {
		return "", Wrap(err)
	}
	return tx.ID, nil
}

// Remove deletes id from the bound owner's transactions. Removing an id that
// does not exist (or belongs to someone else) succeeds without effect.
func (d *Direct) Remove(ctx context.Context, id string) error {
	if d.owner == "" {
		return apperrors.ErrAuthRequired
	}
	err := d.svc.DeleteTransaction(ctx, d.owner, id)
	if err == nil || errors.Is(err, apperrors.ErrTransactionNotFound) {
		return nil
	}
	return Wrap(err)
}

// Subscribe opens a realtime channel on the hub.
func (d *Direct) Subscribe(ownerID string, onSnapshot func([]models.Transaction), onError func(error)) (func(), error) {
	if err := d.checkOwner(ownerID); err != nil {
		return nil, err
	}
	unsub, err := d.hub.Subscribe(ownerID, onSnapshot, onError)
	if err != nil {
		return nil, err
	}
	return Once(unsub), nil
}

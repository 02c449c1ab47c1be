// Package realtime fans transaction changes out to long-lived per-owner
// subscriptions. Every delivery is a full, ordered snapshot of the owner's
// transactions, never a diff.
package realtime

import (
	"context"
	"errors"
	"sync"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/logger"
	"budgettracker/internal/models"
)

// LoadFunc returns the owner's current snapshot, date descending.
type LoadFunc func(ctx context.Context, ownerID string) ([]models.Transaction, error)

var errHubClosed = errors.New("realtime hub is closed")

// Hub tracks subscriptions and reloads snapshots when an owner changes.
//
// Each subscription owns a goroutine and a one-slot dirty signal. Notify
// marks subscribers dirty; bursts of changes coalesce into a single reload.
// Snapshots for one subscription are delivered in order on its goroutine.
type Hub struct {
	load LoadFunc

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	owner      string
	onSnapshot func([]models.Transaction)
	onError    func(error)

	dirty  chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		close(s.done)
	})
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// NewHub creates a hub that reads snapshots through load.
func NewHub(load LoadFunc) *Hub {
	return &Hub{
		load: load,
		subs: make(map[string]map[*subscription]struct{}),
	}
}

// Subscribe opens a realtime channel for ownerID. The first snapshot is
// delivered right after subscribing. If a reload fails, the failure is logged,
// onError is called once with a SUBSCRIPTION_ERROR and the channel closes; it
// is not retried. The returned function cancels the subscription and is safe
// to call more than once.
func (h *Hub) Subscribe(ownerID string, onSnapshot func([]models.Transaction), onError func(error)) (func(), error) {
	if ownerID == "" {
		return nil, apperrors.ErrAuthRequired
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		owner:      ownerID,
		onSnapshot: onSnapshot,
		onError:    onError,
		dirty:      make(chan struct{}, 1),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	sub.markDirty()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, apperrors.Wrap(apperrors.ErrSubscription, errHubClosed)
	}
	owned, ok := h.subs[ownerID]
	if !ok {
		owned = make(map[*subscription]struct{})
		h.subs[ownerID] = owned
	}
	owned[sub] = struct{}{}
	h.mu.Unlock()

	go h.run(sub)

	return func() { h.remove(sub) }, nil
}

func (h *Hub) run(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.dirty:
		}

		items, err := h.load(sub.ctx, sub.owner)
		if sub.stopped() {
			return
		}
		if err != nil {
			logger.Get().Warnw("realtime snapshot reload failed", "user_id", sub.owner, "error", err)
			h.remove(sub)
			if sub.onError != nil {
				sub.onError(apperrors.Wrap(apperrors.ErrSubscription, err))
			}
			return
		}
		if sub.onSnapshot != nil {
			sub.onSnapshot(items)
		}
	}
}

func (h *Hub) remove(sub *subscription) {
	sub.stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	if owned, ok := h.subs[sub.owner]; ok {
		delete(owned, sub)
		if len(owned) == 0 {
			delete(h.subs, sub.owner)
		}
	}
}

// Notify marks every subscription of ownerID dirty.
func (h *Hub) Notify(ownerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ownerID] {
		sub.markDirty()
	}
}

// Publish notifies local subscribers. It lets the hub act as the change
// notifier when no cross-process bus is configured.
func (h *Hub) Publish(_ context.Context, ownerID string) error {
	h.Notify(ownerID)
	return nil
}

// Subscribers returns the number of live subscriptions for ownerID.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}

// Close cancels every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*subscription
	for _, owned := range h.subs {
		for sub := range owned {
			all = append(all, sub)
		}
	}
	h.subs = make(map[string]map[*subscription]struct{})
	h.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

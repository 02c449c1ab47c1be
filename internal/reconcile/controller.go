// Package reconcile owns the session-scoped transaction list. It applies user
// commands optimistically and lets authoritative realtime snapshots replace
// local state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/identity"
	"budgettracker/internal/logger"
	"budgettracker/internal/models"
	"budgettracker/internal/store"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("reconcile: controller closed")

// Controller holds the current owner's transactions, date descending, with
// optimistic placeholders prepended.
//
// Every mutation of the list happens under one mutex. Each session start bumps
// a generation counter; results of fetches, creates and snapshot callbacks
// issued under an older generation are discarded.
//
// Change listeners receive a copy of the list, never an older state after a
// newer one; a state superseded before its turn to emit is skipped. They may
// read the controller and remove themselves but must not call Start, End, Add,
// Delete or Close synchronously.
type Controller struct {
	store      store.Store
	policy     Policy
	backoffMin time.Duration
	backoffMax time.Duration
	now        func() time.Time

	mu        sync.Mutex
	items     []models.Transaction
	owner     string
	gen       uint64
	live      bool
	unsub     func()
	done      chan struct{}
	seq       uint64
	closed    bool
	listeners map[int]func([]models.Transaction)
	nextID    int
	version   uint64

	// notifyMu serializes emissions. It is never acquired while mu is held.
	notifyMu sync.Mutex
	emitted  uint64
}

// New creates a controller over s with no active session.
func New(s store.Store, opts ...Option) *Controller {
	c := &Controller{
		store:      s,
		policy:     ResubscribeNever,
		backoffMin: DefaultBackoffMin,
		backoffMax: DefaultBackoffMax,
		now:        time.Now,
		listeners:  make(map[int]func([]models.Transaction)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Items returns a copy of the current list.
func (c *Controller) Items() []models.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.items)
}

// Owner returns the current session's owner id, or "" without a session.
func (c *Controller) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// OnChange registers fn to be called after every change of the list.
// The returned function removes the listener.
func (c *Controller) OnChange(fn func([]models.Transaction)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// HandleSession adapts session observer updates: nothing happens while the
// session is loading, a nil user ends the session and a new owner starts one.
func (c *Controller) HandleSession(ctx context.Context, user *identity.User, loading bool) error {
	if loading {
		return nil
	}
	if user == nil {
		c.End()
		return nil
	}
	return c.Start(ctx, user.ID)
}

// Start begins a session for ownerID: it seeds the list with FetchAll and then
// subscribes to realtime snapshots. Starting the session that is already
// active is a no-op. Switching owners tears down the previous subscription
// and clears the previous owner's list first.
//
// A FetchAll failure is returned and no subscription is opened; the owner
// stays set so that Add and Delete keep working.
func (c *Controller) Start(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return apperrors.ErrAuthRequired
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.owner == ownerID && c.live {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked()
	switched := c.owner != ownerID && len(c.items) > 0
	if switched {
		c.items = nil
	}
	c.owner = ownerID
	c.live = true
	c.done = make(chan struct{})
	gen := c.gen
	if switched {
		c.commitLocked()
	} else {
		c.mu.Unlock()
	}

	initial, err := c.store.FetchAll(ctx, ownerID)
	if err != nil {
		logger.Get().Warnw("initial transaction fetch failed", "user_id", ownerID, "error", err)
		c.markDown(gen)
		return store.Wrap(err)
	}
	c.replace(gen, initial)

	if err := c.subscribe(gen, ownerID); err != nil {
		c.markDown(gen)
		return err
	}
	return nil
}

// markDown lets the next Start for the same owner retry the session setup.
func (c *Controller) markDown(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.live = false
	}
}

// End tears down the active subscription and clears the list. Listeners are
// notified only if the list was non-empty.
func (c *Controller) End() {
	c.mu.Lock()
	c.teardownLocked()
	c.owner = ""
	c.live = false
	if len(c.items) == 0 {
		c.mu.Unlock()
		return
	}
	c.items = nil
	c.commitLocked()
}

// Close ends the session and makes further Start calls fail.
func (c *Controller) Close() {
	c.End()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Add records input optimistically. A placeholder is prepended before the
// store is called and stays until a snapshot supersedes it. If the store
// rejects the write the placeholder is removed and the error returned.
// It returns the placeholder id.
func (c *Controller) Add(ctx context.Context, input models.NewTransaction) (string, error) {
	input = input.WithDefaults(c.now())

	c.mu.Lock()
	if c.owner == "" {
		c.mu.Unlock()
		return "", apperrors.ErrAuthRequired
	}
	owner, gen := c.owner, c.gen
	c.seq++
	id := fmt.Sprintf("%s%d-%d", models.PlaceholderPrefix, c.now().UnixNano(), c.seq)
	placeholder := input.Record(id, owner)
	c.items = append([]models.Transaction{placeholder}, c.items...)
	c.commitLocked()

	if _, err := c.store.Create(ctx, owner, input); err != nil {
		c.removeLocal(gen, id)
		return "", store.Wrap(err)
	}
	return id, nil
}

// Delete removes id. Placeholders are removed locally without calling the
// store. Persisted ids are removed remotely exactly once and the list is left
// for the next snapshot to update.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if models.IsPlaceholderID(id) {
		c.mu.Lock()
		c.removeLocked(id)
		return nil
	}

	if c.Owner() == "" {
		return apperrors.ErrAuthRequired
	}
	if err := c.store.Remove(ctx, id); err != nil {
		return store.Wrap(err)
	}
	return nil
}

func (c *Controller) subscribe(gen uint64, ownerID string) error {
	unsub, err := c.store.Subscribe(ownerID,
		func(items []models.Transaction) { c.replace(gen, items) },
		func(err error) { c.channelFailed(gen, ownerID, err) },
	)
	if err != nil {
		logger.Get().Warnw("realtime subscribe failed", "user_id", ownerID, "error", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// The session changed while subscribing.
		unsub()
		return nil
	}
	c.unsub = unsub
	return nil
}

func (c *Controller) channelFailed(gen uint64, ownerID string, err error) {
	logger.Get().Warnw("realtime channel failed", "user_id", ownerID, "error", err, "policy", c.policy.String())

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.unsub = nil
	done := c.done
	c.mu.Unlock()

	if c.policy == ResubscribeBackoff {
		go c.resubscribe(gen, ownerID, done)
	}
}

func (c *Controller) resubscribe(gen uint64, ownerID string, done <-chan struct{}) {
	delay := c.backoffMin
	for {
		timer := time.NewTimer(delay)
		select {
		case <-done:
			timer.Stop()
			return
		case <-timer.C:
		}

		if !c.current(gen) {
			return
		}
		if err := c.subscribe(gen, ownerID); err == nil {
			logger.Get().Infow("realtime channel re-established", "user_id", ownerID)
			return
		}
		delay = nextDelay(delay, c.backoffMax)
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && !c.closed
}

// replace swaps in a snapshot if gen is still current. Identical snapshots do
// not notify listeners.
func (c *Controller) replace(gen uint64, items []models.Transaction) {
	c.mu.Lock()
	if c.gen != gen || equal(c.items, items) {
		c.mu.Unlock()
		return
	}
	c.items = clone(items)
	c.commitLocked()
}

func (c *Controller) removeLocal(gen uint64, id string) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.removeLocked(id)
}

// removeLocked drops id from the list. It must be called with c.mu held and
// releases it.
func (c *Controller) removeLocked(id string) {
	for i := range c.items {
		if c.items[i].ID == id {
			next := make([]models.Transaction, 0, len(c.items)-1)
			next = append(next, c.items[:i]...)
			next = append(next, c.items[i+1:]...)
			c.items = next
			c.commitLocked()
			return
		}
	}
	c.mu.Unlock()
}

// teardownLocked closes the active subscription and invalidates in-flight work.
func (c *Controller) teardownLocked() {
	c.gen++
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}

// commitLocked notifies listeners of the current list. It must be called with
// c.mu held and releases it.
func (c *Controller) commitLocked() {
	c.version++
	version := c.version
	snapshot := clone(c.items)
	fns := make([]func([]models.Transaction), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if version <= c.emitted {
		return
	}
	c.emitted = version
	for _, fn := range fns {
		fn(snapshot)
	}
}

func clone(items []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(items))
	copy(out, items)
	return out
}

func equal(a, b []models.Transaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Same(b[i]) {
			return false
		}
	}
	return true
}

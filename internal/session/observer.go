// Package session tracks the signed-in user reported by an identity provider.
package session

import (
	"sync"

	"budgettracker/internal/identity"
)

// Observer mirrors the provider's current user. It reports loading until the
// provider's first callback arrives.
type Observer struct {
	provider identity.Provider

	mu        sync.Mutex
	user      *identity.User
	loading   bool
	started   bool
	closed    bool
	unsub     func()
	listeners identity.Listeners
	loadingCh chan struct{}
}

// New creates an observer for provider. Call Start to begin observing.
func New(provider identity.Provider) *Observer {
	return &Observer{
		provider:  provider,
		loading:   true,
		loadingCh: make(chan struct{}),
	}
}

// Start subscribes to the provider once. Later calls, and calls after Close,
// do nothing.
func (o *Observer) Start() {
	o.mu.Lock()
	if o.started || o.closed {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	unsub := o.provider.ObserveSession(o.update)

	o.mu.Lock()
	if o.closed {
		// Close ran while the provider was registering us.
		o.mu.Unlock()
		unsub()
		return
	}
	o.unsub = unsub
	o.mu.Unlock()
}

func (o *Observer) update(u *identity.User) {
	o.mu.Lock()
	o.user = u
	if o.loading {
		o.loading = false
		close(o.loadingCh)
	}
	o.mu.Unlock()

	o.listeners.Emit(u)
}

// CurrentUser returns the signed-in user or nil.
func (o *Observer) CurrentUser() *identity.User {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.user
}

// IsLoading reports whether the provider has not answered yet.
func (o *Observer) IsLoading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// Ready is closed once the first session state is known.
func (o *Observer) Ready() <-chan struct{} {
	return o.loadingCh
}

// OnChange registers fn for every session update after loading completes.
// fn receives the user and the loading flag, which is always false.
func (o *Observer) OnChange(fn func(user *identity.User, loading bool)) func() {
	return o.listeners.Add(func(u *identity.User) { fn(u, false) })
}

// Close stops observing the provider. It is safe to call more than once.
func (o *Observer) Close() {
	o.mu.Lock()
	o.closed = true
	unsub := o.unsub
	o.unsub = nil
	o.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Package identity describes the identity provider the client side depends on.
package identity

import (
	"context"
	"sync"
)

// User is the session handle of a signed-in user.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name returns the display name, falling back to the email address.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Provider creates accounts, signs users in and out and reports session changes.
type Provider interface {
	CreateAccount(ctx context.Context, email, password string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignOut(ctx context.Context) error
	// ObserveSession calls fn with the current user right away and again on
	// every change. A nil user means signed out.
	ObserveSession(fn func(*User)) (unsubscribe func())
}

// Listeners is a set of session callbacks, used by Provider implementations.
type Listeners struct {
	mu     sync.Mutex
	fns    map[int]func(*User)
	nextID int
}

// Add registers fn and returns a function that removes it.
func (l *Listeners) Add(fn func(*User)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(*User))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
		})
	}
}

// Emit calls every registered callback with u.
func (l *Listeners) Emit(u *User) {
	l.mu.Lock()
	fns := make([]func(*User), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

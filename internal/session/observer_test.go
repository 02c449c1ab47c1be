package session

import (
	"context"
	"testing"

	"budgettracker/internal/identity"
)

// fakeProvider emits session changes on demand.
type fakeProvider struct {
	current   *identity.User
	observers identity.Listeners
	observed  int
	removed   int
	emitFirst bool
	onObserve func()
}

func (p *fakeProvider) CreateAccount(_ context.Context, email, _ string) (*identity.User, error) {
	p.current = &identity.User{ID: "new", Email: email}
	p.observers.Emit(p.current)
	return p.current, nil
}

func (p *fakeProvider) SignIn(_ context.Context, email, _ string) (*identity.User, error) {
	p.current = &identity.User{ID: "u-" + email, Email: email}
	p.observers.Emit(p.current)
	return p.current, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.current = nil
	p.observers.Emit(nil)
	return nil
}

func (p *fakeProvider) ObserveSession(fn func(*identity.User)) func() {
	p.observed++
	remove := p.observers.Add(fn)
	if p.emitFirst {
		fn(p.current)
	}
	if p.onObserve != nil {
		p.onObserve()
	}
	return func() {
		p.removed++
		remove()
	}
}

func TestObserver(t *testing.T) {
	t.Run("loading_until_first_callback", func(t *testing.T) {
		p := &fakeProvider{}
		o := New(p)
		o.Start()
		defer o.Close()

		if !o.IsLoading() {
			t.Error("expected loading before the provider answers")
		}
		if o.CurrentUser() != nil {
			t.Error("expected no user while loading")
		}

		p.observers.Emit(nil)
		if o.IsLoading() {
			t.Error("expected loading to clear after the first callback")
		}
		select {
		case <-o.Ready():
		default:
			t.Error("Ready should be closed")
		}
	})

	t.Run("tracks_sign_in_and_out", func(t *testing.T) {
		p := &fakeProvider{emitFirst: true}
		o := New(p)
		o.Start()
		defer o.Close()

		var seen []string
		o.OnChange(func(u *identity.User, loading bool) {
			if loading {
				t.Error("listeners must not see loading updates")
			}
			seen = append(seen, u.Name())
		})

		_, _ = p.SignIn(context.Background(), "ann@example.com", "pw")
		if got := o.CurrentUser(); got == nil || got.Email != "ann@example.com" {
			t.Fatalf("expected ann to be signed in, got %+v", got)
		}

		_ = p.SignOut(context.Background())
		if o.CurrentUser() != nil {
			t.Error("expected sign out to clear the user")
		}

		if len(seen) != 2 || seen[0] != "ann@example.com" || seen[1] != "" {
			t.Errorf("unexpected listener calls: %v", seen)
		}
	})

	t.Run("start_is_idempotent", func(t *testing.T) {
		p := &fakeProvider{}
		o := New(p)
		o.Start()
		o.Start()
		if p.observed != 1 {
			t.Errorf("expected one provider subscription, got %d", p.observed)
		}
	})

	t.Run("close_unsubscribes_once", func(t *testing.T) {
		p := &fakeProvider{emitFirst: true}
		o := New(p)
		o.Start()
		o.Close()
		o.Close()
		if p.removed != 1 {
			t.Errorf("expected a single unsubscribe, got %d", p.removed)
		}

		_, _ = p.SignIn(context.Background(), "late@example.com", "pw")
		if o.CurrentUser() != nil {
			t.Error("closed observer must ignore later sessions")
		}
	})

	t.Run("close_during_start_unsubscribes", func(t *testing.T) {
		p := &fakeProvider{}
		o := New(p)
		p.onObserve = o.Close
		o.Start()
		if p.removed != 1 {
			t.Fatalf("subscription registered during Close must be removed, got %d removals", p.removed)
		}

		_, _ = p.SignIn(context.Background(), "late@example.com", "pw")
		if o.CurrentUser() != nil {
			t.Error("closed observer must ignore later sessions")
		}
	})

	t.Run("start_after_close", func(t *testing.T) {
		p := &fakeProvider{}
		o := New(p)
		o.Close()
		o.Start()
		if p.observed != 0 {
			t.Errorf("closed observer must not subscribe, got %d subscriptions", p.observed)
		}
	})
}

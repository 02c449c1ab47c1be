package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/identity"
	"budgettracker/internal/logger"
	"budgettracker/internal/models"
)

const ownerID = "0190b6a4-7c1e-7000-8000-000000000001"

func init() {
	logger.Init("test")
}

// fakeAPI is a minimal stand-in for the budget tracker API.
type fakeAPI struct {
	mu            sync.Mutex
	access        string
	refresh       string
	rotation      int
	rejectRefresh bool
	created       []models.NewTransaction
	deleteStatus  int
	requests      int
	events        chan string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{access: "access-0", refresh: "refresh-0", deleteStatus: http.StatusNoContent, events: make(chan string, 8)}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAPI) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return r.Header.Get("Authorization") == "Bearer "+f.access
}

func (f *fakeAPI) tokens() map[string]any {
	return map[string]any{
		"access_token":  f.access,
		"refresh_token": f.refresh,
		"user":          map[string]string{"id": ownerID, "email": "ada@example.com", "display_name": "Ada"},
	}
}

// expireAccess invalidates the current access token.
func (f *fakeAPI) expireAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = "expired"
}

func (f *fakeAPI) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeAPI) rotations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotation
}

func (f *fakeAPI) createdInputs() []models.NewTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NewTransaction(nil), f.created...)
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret123" {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.access = "access-1"
		writeJSON(w, http.StatusOK, f.tokens())
	})
	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.rejectRefresh || body.RefreshToken != f.refresh {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}
		f.rotation++
		f.access = "access-r" + string(rune('0'+f.rotation))
		f.refresh = "refresh-r" + string(rune('0'+f.rotation))
		writeJSON(w, http.StatusOK, f.tokens())
	})
	mux.HandleFunc("POST /api/v1/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "boom")
	})
	mux.HandleFunc("GET /api/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]string{"id": ownerID, "email": "ada@example.com", "display_name": "Ada L"}})
	})
	mux.HandleFunc("GET /api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": []map[string]string{
			{"id": "b", "date": "2024-03-02", "type": "expense", "category": "Food", "amount": "4.5"},
			{"id": "a", "date": "2024-03-01", "type": "income", "category": "Salary", "amount": "100"},
		}})
	})
	mux.HandleFunc("POST /api/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}
		var input models.NewTransaction
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
			return
		}
		if input.Amount.IsZero() {
			writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be a non-zero number")
			return
		}
		f.mu.Lock()
		f.created = append(f.created, input)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"id": "server-1"})
	})
	mux.HandleFunc("DELETE /api/v1/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}
		f.mu.Lock()
		status := f.deleteStatus
		f.mu.Unlock()
		switch status {
		case http.StatusNotFound:
			writeError(w, status, "TRANSACTION_NOT_FOUND", "Transaction not found")
		case http.StatusNoContent:
			w.WriteHeader(status)
		default:
			writeError(w, status, "INTERNAL_ERROR", "An internal error occurred")
		}
	})
	mux.HandleFunc("GET /api/v1/transactions/stream", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case raw, ok := <-f.events:
				if !ok {
					return
				}
				_, _ = io.WriteString(w, raw)
				w.(http.Flusher).Flush()
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSignedInClient(t *testing.T, api *fakeAPI, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := api.server(t)
	c := New(srv.URL+"/api/v1", opts...)
	if _, err := c.SignIn(context.Background(), "ada@example.com", "secret123"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return c, srv
}

func TestSignIn(t *testing.T) {
	t.Run("stores_and_announces_the_session", func(t *testing.T) {
		api := newFakeAPI()
		srv := api.server(t)
		path := filepath.Join(t.TempDir(), "session.json")
		c := New(srv.URL+"/api/v1", WithSessionFile(path))

		var seen []*identity.User
		unsubscribe := c.ObserveSession(func(u *identity.User) { seen = append(seen, u) })
		defer unsubscribe()

		user, err := c.SignIn(context.Background(), "ada@example.com", "secret123")
		if err != nil {
			t.Fatalf("SignIn: %v", err)
		}
		if user.ID != ownerID || user.Name() != "Ada" {
			t.Errorf("unexpected user %+v", user)
		}
		if len(seen) != 2 || seen[0] != nil || seen[1] == nil || seen[1].ID != ownerID {
			t.Errorf("expected nil then the user, got %v", seen)
		}

		saved, err := loadSession(path)
		if err != nil || saved == nil {
			t.Fatalf("expected a saved session, got %v, %v", saved, err)
		}
		if saved.AccessToken != "access-1" || saved.RefreshToken != "refresh-0" {
			t.Errorf("unexpected saved tokens %+v", saved)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("expected 0600 session file, got %v", info.Mode().Perm())
		}
	})

	t.Run("wrong_password_keeps_server_error_code", func(t *testing.T) {
		api := newFakeAPI()
		srv := api.server(t)
		c := New(srv.URL + "/api/v1")

		_, err := c.SignIn(context.Background(), "ada@example.com", "nope")
		if !errors.Is(err, apperrors.ErrInvalidCredentials) {
			t.Fatalf("expected INVALID_CREDENTIALS, got %v", err)
		}
		if c.CurrentUser() != nil {
			t.Error("expected no session after a failed sign in")
		}
	})
}

func TestSignOut(t *testing.T) {
	api := newFakeAPI()
	path := filepath.Join(t.TempDir(), "session.json")
	c, _ := newSignedInClient(t, api, WithSessionFile(path))

	var last *identity.User
	calls := 0
	unsubscribe := c.ObserveSession(func(u *identity.User) {
		calls++
		last = u
	})
	defer unsubscribe()

	// The fake server fails the revoke; the local session is still cleared.
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if c.CurrentUser() != nil {
		t.Error("expected no current user")
	}
	if calls != 2 || last != nil {
		t.Errorf("expected a nil user notification, got %d calls, last %v", calls, last)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected the session file to be removed, got %v", err)
	}
	if err := c.SignOut(context.Background()); err != nil {
		t.Errorf("second SignOut: %v", err)
	}
}

func TestRestore(t *testing.T) {
	t.Run("no_session_file", func(t *testing.T) {
		api := newFakeAPI()
		srv := api.server(t)
		c := New(srv.URL+"/api/v1", WithSessionFile(filepath.Join(t.TempDir(), "missing.json")))

		user, err := c.Restore(context.Background())
		if err != nil || user != nil {
			t.Fatalf("expected nil user and error, got %v, %v", user, err)
		}
	})

	t.Run("refreshes_an_expired_access_token", func(t *testing.T) {
		api := newFakeAPI()
		path := filepath.Join(t.TempDir(), "session.json")
		newSignedInClient(t, api, WithSessionFile(path))
		api.expireAccess()

		srv := api.server(t)
		c := New(srv.URL+"/api/v1", WithSessionFile(path))
		var seen *identity.User
		c.listeners.Add(func(u *identity.User) { seen = u })

		user, err := c.Restore(context.Background())
		if err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if user == nil || user.DisplayName != "Ada L" {
			t.Fatalf("expected the refreshed profile, got %+v", user)
		}
		if seen == nil || seen.ID != ownerID {
			t.Errorf("expected observers to see the restored user, got %v", seen)
		}
		saved, _ := loadSession(path)
		if saved == nil || saved.RefreshToken != "refresh-r1" || saved.AccessToken != "access-r1" {
			t.Errorf("expected rotated tokens to be saved, got %+v", saved)
		}
	})

	t.Run("rejected_refresh_signs_out", func(t *testing.T) {
		api := newFakeAPI()
		path := filepath.Join(t.TempDir(), "session.json")
		newSignedInClient(t, api, WithSessionFile(path))
		api.expireAccess()
		api.mu.Lock()
		api.rejectRefresh = true
		api.mu.Unlock()

		srv := api.server(t)
		c := New(srv.URL+"/api/v1", WithSessionFile(path))

		user, err := c.Restore(context.Background())
		if err != nil || user != nil {
			t.Fatalf("expected a signed out result, got %v, %v", user, err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("expected the session file to be removed, got %v", err)
		}
	})
}

func TestFetchAll(t *testing.T) {
	t.Run("decodes_the_snapshot", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)

		items, err := c.FetchAll(context.Background(), ownerID)
		if err != nil {
			t.Fatalf("FetchAll: %v", err)
		}
		if len(items) != 2 || items[0].ID != "b" || !items[0].Amount.Equal(decimal.RequireFromString("4.5")) {
			t.Errorf("unexpected items %+v", items)
		}
	})

	t.Run("owner_checks_happen_before_any_request", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)
		before := api.requestCount()

		if _, err := c.FetchAll(context.Background(), ""); !errors.Is(err, apperrors.ErrAuthRequired) {
			t.Errorf("expected UNAUTHORIZED for an empty owner, got %v", err)
		}
		if _, err := c.FetchAll(context.Background(), "someone-else"); !errors.Is(err, apperrors.ErrForbidden) {
			t.Errorf("expected FORBIDDEN for another owner, got %v", err)
		}
		if api.requestCount() != before {
			t.Error("expected no request to reach the server")
		}
	})

	t.Run("signed_out", func(t *testing.T) {
		api := newFakeAPI()
		srv := api.server(t)
		c := New(srv.URL + "/api/v1")

		if _, err := c.FetchAll(context.Background(), ownerID); !errors.Is(err, apperrors.ErrAuthRequired) {
			t.Errorf("expected UNAUTHORIZED, got %v", err)
		}
	})

	t.Run("transport_failure_is_a_store_error", func(t *testing.T) {
		api := newFakeAPI()
		c, srv := newSignedInClient(t, api)
		srv.Close()

		_, err := c.FetchAll(context.Background(), ownerID)
		if !errors.Is(err, apperrors.ErrStore) {
			t.Errorf("expected STORE_ERROR, got %v", err)
		}
	})

	t.Run("retries_once_after_refresh", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)
		api.expireAccess()

		if _, err := c.FetchAll(context.Background(), ownerID); err != nil {
			t.Fatalf("FetchAll: %v", err)
		}
		if got := api.rotations(); got != 1 {
			t.Errorf("expected one refresh, got %d", got)
		}
	})
}

func TestCreate(t *testing.T) {
	t.Run("returns_the_server_id", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)

		id, err := c.Create(context.Background(), ownerID, models.NewTransaction{
			Amount: decimal.RequireFromString("12.5"),
			Type:   models.TransactionTypeExpense,
			Note:   "lunch",
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id != "server-1" {
			t.Errorf("expected server-1, got %q", id)
		}
		created := api.createdInputs()
		if len(created) != 1 || created[0].Note != "lunch" || !created[0].Amount.Equal(decimal.RequireFromString("12.5")) {
			t.Errorf("unexpected request body %+v", created)
		}
	})

	t.Run("validation_errors_keep_their_code", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)

		_, err := c.Create(context.Background(), ownerID, models.NewTransaction{Type: models.TransactionTypeIncome})
		if !errors.Is(err, apperrors.ErrInvalidAmount) {
			t.Errorf("expected INVALID_AMOUNT, got %v", err)
		}
	})
}

func TestRemove(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "deleted", status: http.StatusNoContent},
		{name: "already_gone", status: http.StatusNotFound},
		{name: "server_failure", status: http.StatusInternalServerError, wantErr: apperrors.ErrStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.deleteStatus = tt.status
			c, _ := newSignedInClient(t, api)

			err := c.Remove(context.Background(), "tx-1")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("signed_out", func(t *testing.T) {
		c := New("http://127.0.0.1:0/api/v1")
		if err := c.Remove(context.Background(), "tx-1"); !errors.Is(err, apperrors.ErrAuthRequired) {
			t.Errorf("expected UNAUTHORIZED, got %v", err)
		}
	})
}

func TestSubscribe(t *testing.T) {
	waitFor := func(t *testing.T, ch <-chan []models.Transaction) []models.Transaction {
		t.Helper()
		select {
		case items := <-ch:
			return items
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a snapshot")
			return nil
		}
	}

	t.Run("delivers_snapshots_in_order", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)

		snapshots := make(chan []models.Transaction, 4)
		unsubscribe, err := c.Subscribe(ownerID, func(items []models.Transaction) { snapshots <- items }, func(err error) {
			t.Errorf("unexpected channel error: %v", err)
		})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}

		api.events <- "event:snapshot\ndata:{\"transactions\":[]}\n\n"
		api.events <- ": keepalive\n\n"
		api.events <- "event:snapshot\ndata:{\"transactions\":[{\"id\":\"a\",\"amount\":\"2\",\"type\":\"income\",\"date\":\"2024-03-01\"}]}\n\n"

		if first := waitFor(t, snapshots); first == nil || len(first) != 0 {
			t.Fatalf("expected an empty first snapshot, got %v", first)
		}
		if second := waitFor(t, snapshots); len(second) != 1 || second[0].ID != "a" {
			t.Fatalf("unexpected second snapshot %v", second)
		}

		unsubscribe()
		unsubscribe()
	})

	t.Run("error_event_reports_once", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)

		errs := make(chan error, 2)
		_, err := c.Subscribe(ownerID, func([]models.Transaction) {}, func(err error) { errs <- err })
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		api.events <- "event:error\ndata:{\"error\":{\"code\":\"SUBSCRIPTION_ERROR\",\"message\":\"listener died\"}}\n\n"

		select {
		case err := <-errs:
			if !errors.Is(err, apperrors.ErrSubscription) || !strings.Contains(err.Error(), "listener died") {
				t.Errorf("unexpected error %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected a channel error")
		}
		select {
		case err := <-errs:
			t.Errorf("expected a single error, got another: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("closed_stream_is_a_channel_error", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)

		errs := make(chan error, 1)
		if _, err := c.Subscribe(ownerID, func([]models.Transaction) {}, func(err error) { errs <- err }); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		close(api.events)

		select {
		case err := <-errs:
			if !errors.Is(err, apperrors.ErrSubscription) {
				t.Errorf("expected SUBSCRIPTION_ERROR, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected a channel error")
		}
	})

	t.Run("unsubscribe_is_silent", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)

		errs := make(chan error, 1)
		unsubscribe, err := c.Subscribe(ownerID, func([]models.Transaction) {}, func(err error) { errs <- err })
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		unsubscribe()

		select {
		case err := <-errs:
			t.Errorf("expected no error after unsubscribe, got %v", err)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("rejects_other_owners", func(t *testing.T) {
		api := newFakeAPI()
		c, _ := newSignedInClient(t, api)

		if _, err := c.Subscribe("someone-else", func([]models.Transaction) {}, func(error) {}); !errors.Is(err, apperrors.ErrForbidden) {
			t.Errorf("expected FORBIDDEN, got %v", err)
		}
	})
}

func TestEventReader(t *testing.T) {
	input := ": hello\r\n" +
		"event: snapshot\r\n" +
		"data: line one\r\n" +
		"data: line two\r\n" +
		"\r\n" +
		"\n" +
		"data:{}\n" +
		"\n" +
		"event:partial\n"

	r := newEventReader(strings.NewReader(input))

	ev, err := r.Next()
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if ev.Name != "snapshot" || ev.Data != "line one\nline two" {
		t.Errorf("unexpected first event %+v", ev)
	}

	ev, err = r.Next()
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if ev.Name != "" || ev.Data != "{}" {
		t.Errorf("unexpected second event %+v", ev)
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF for an unterminated event, got %v", err)
	}
}

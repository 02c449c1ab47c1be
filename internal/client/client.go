// Package client talks to the budget tracker API over HTTP. A Client is both
// the identity provider and the realtime transaction store of the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/identity"
	"budgettracker/internal/logger"
	"budgettracker/internal/models"
	"budgettracker/internal/store"
)

// DefaultTimeout bounds every request except the realtime stream.
const DefaultTimeout = 15 * time.Second

const (
	eventSnapshot = "snapshot"
	eventError    = "error"

	maxErrorBody = 64 << 10
)

// Option configures a Client.
type Option func(*Client)

// WithSessionFile persists the session at path so it survives restarts.
func WithSessionFile(path string) Option {
	return func(c *Client) { c.sessionFile = path }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client. Its transport is also
// used for the realtime stream, without the timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is an API client bound to at most one signed-in user at a time.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	sessionFile  string

	mu        sync.Mutex
	session   *Session
	refreshMu sync.Mutex
	listeners identity.Listeners
}

var (
	_ identity.Provider = (*Client)(nil)
	_ store.Store       = (*Client)(nil)
)

// New creates a client for the API rooted at baseURL, e.g.
// http://localhost:8080/api/v1.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.streamClient = &http.Client{Transport: c.httpClient.Transport}
	return c
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         identity.User `json:"user"`
}

func (r authResponse) session() *Session {
	u := r.User
	return &Session{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken, User: &u}
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Restore loads the saved session and checks it against the server,
// refreshing the access token if needed. It returns nil when no valid
// session remains.
func (c *Client) Restore(ctx context.Context) (*identity.User, error) {
	s, err := loadSession(c.sessionFile)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	before := c.CurrentUser()
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	var profile struct {
		User identity.User `json:"user"`
	}
	if err := c.call(ctx, http.MethodGet, "/profile", nil, &profile, true); err != nil {
		if isUnauthorized(err) {
			c.setSession(nil)
			return nil, nil
		}
		return nil, err
	}

	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return nil, nil
	}
	refreshed := *current
	refreshed.User = &profile.User
	c.setSession(&refreshed)

	user := c.CurrentUser()
	if before == nil || before.ID != user.ID {
		c.listeners.Emit(user)
	}
	return user, nil
}

// CreateAccount registers a new user and signs them in.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (*identity.User, error) {
	return c.authenticate(ctx, "/auth/register", email, password)
}

// SignIn signs an existing user in.
func (c *Client) SignIn(ctx context.Context, email, password string) (*identity.User, error) {
	return c.authenticate(ctx, "/auth/login", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*identity.User, error) {
	var resp authResponse
	if err := c.call(ctx, http.MethodPost, path, credentials{Email: email, Password: password}, &resp, false); err != nil {
		return nil, err
	}
	c.setSession(resp.session())
	return c.CurrentUser(), nil
}

// SignOut forgets the local session right away, then asks the server to
// revoke its refresh token. A failed revoke is logged only.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	c.setSession(nil)

	resp, err := c.request(ctx, c.httpClient, http.MethodPost, "/auth/logout", nil, s.AccessToken)
	if err != nil {
		logger.Get().Warnw("failed to revoke session", "user_id", s.User.ID, "error", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		logger.Get().Warnw("failed to revoke session", "user_id", s.User.ID, "error", decodeError(resp))
	}
	return nil
}

// ObserveSession calls fn with the current user and again whenever the
// signed-in user changes.
func (c *Client) ObserveSession(fn func(*identity.User)) func() {
	unsubscribe := c.listeners.Add(fn)
	fn(c.CurrentUser())
	return unsubscribe
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (c *Client) CurrentUser() *identity.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.User == nil {
		return nil
	}
	u := *c.session.User
	return &u
}

// setSession replaces the session, persists it and notifies observers when
// the user changes.
func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	prev := ""
	if c.session != nil && c.session.User != nil {
		prev = c.session.User.ID
	}
	c.session = s
	next := ""
	var user *identity.User
	if s != nil && s.User != nil {
		next = s.User.ID
		u := *s.User
		user = &u
	}
	c.mu.Unlock()

	if err := saveSession(c.sessionFile, s); err != nil {
		logger.Get().Warnw("failed to persist session", "error", err)
	}
	if prev != next {
		c.listeners.Emit(user)
	}
}

func (c *Client) tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", ""
	}
	return c.session.AccessToken, c.session.RefreshToken
}

// FetchAll returns the owner's transactions, newest date first.
func (c *Client) FetchAll(ctx context.Context, ownerID string) ([]models.Transaction, error) {
	if err := c.checkOwner(ownerID); err != nil {
		return nil, err
	}
	var out struct {
		Transactions []models.Transaction `json:"transactions"`
	}
	if err := c.call(ctx, http.MethodGet, "/transactions", nil, &out, true); err != nil {
		return nil, store.Wrap(err)
	}
	if out.Transactions == nil {
		out.Transactions = []models.Transaction{}
	}
	return out.Transactions, nil
}

// Create stores input for the owner and returns the assigned id.
func (c *Client) Create(ctx context.Context, ownerID string, input models.NewTransaction) (string, error) {
	if err := c.checkOwner(ownerID); err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/transactions", input, &out, true); err != nil {
		return "", store.Wrap(err)
	}
	return out.ID, nil
}

// Remove deletes id. The server scopes deletes to the signed-in user; an id
// that is already gone counts as removed.
func (c *Client) Remove(ctx context.Context, id string) error {
	if c.CurrentUser() == nil {
		return apperrors.ErrAuthRequired
	}
	err := c.call(ctx, http.MethodDelete, "/transactions/"+url.PathEscape(id), nil, nil, true)
	if err == nil || errors.Is(err, apperrors.ErrTransactionNotFound) {
		return nil
	}
	return store.Wrap(err)
}

// Subscribe opens the server-sent event stream for the owner. Snapshots are
// delivered on a dedicated goroutine. Unsubscribing only cancels the stream;
// it never waits for that goroutine.
func (c *Client) Subscribe(ownerID string, onSnapshot func([]models.Transaction), onError func(error)) (func(), error) {
	if err := c.checkOwner(ownerID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := c.send(ctx, c.streamClient, http.MethodGet, "/transactions/stream", nil, true)
	if err != nil {
		cancel()
		if isUnauthorized(err) {
			return nil, apperrors.Wrap(apperrors.ErrAuthRequired, err)
		}
		return nil, apperrors.Wrap(apperrors.ErrSubscription, err)
	}

	go c.stream(ctx, ownerID, resp.Body, onSnapshot, onError)
	return store.Once(cancel), nil
}

func (c *Client) stream(ctx context.Context, ownerID string, body io.ReadCloser, onSnapshot func([]models.Transaction), onError func(error)) {
	defer func() { _ = body.Close() }()

	fail := func(err error) {
		logger.Get().Warnw("transaction stream failed", "user_id", ownerID, "error", err)
		onError(err)
	}

	events := newEventReader(body)
	for {
		ev, err := events.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fail(apperrors.Wrap(apperrors.ErrSubscription, fmt.Errorf("reading stream: %w", err)))
			return
		}

		switch ev.Name {
		case eventSnapshot:
			var payload struct {
				Transactions []models.Transaction `json:"transactions"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
				fail(apperrors.Wrap(apperrors.ErrSubscription, fmt.Errorf("decoding snapshot: %w", err)))
				return
			}
			if ctx.Err() != nil {
				return
			}
			if payload.Transactions == nil {
				payload.Transactions = []models.Transaction{}
			}
			onSnapshot(payload.Transactions)
		case eventError:
			var envelope errorEnvelope
			msg := apperrors.ErrSubscription.Message
			if json.Unmarshal([]byte(ev.Data), &envelope) == nil && envelope.Error.Message != "" {
				msg = envelope.Error.Message
			}
			fail(apperrors.WithMessage(apperrors.ErrSubscription, msg))
			return
		}
	}
}

// checkOwner rejects calls for anyone other than the signed-in user before
// any I/O happens.
func (c *Client) checkOwner(ownerID string) error {
	if ownerID == "" {
		return apperrors.ErrAuthRequired
	}
	u := c.CurrentUser()
	if u == nil {
		return apperrors.ErrAuthRequired
	}
	if u.ID != ownerID {
		return apperrors.WithMessage(apperrors.ErrForbidden, "signed in as a different user")
	}
	return nil
}

// call sends a request and decodes the JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any, retry bool) error {
	resp, err := c.send(ctx, c.httpClient, method, path, body, retry)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// send performs an authenticated request. When retry is set, a 401 triggers
// one token refresh and one retry. Error responses are returned as *AppError.
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body any, retry bool) (*http.Response, error) {
	access, refresh := c.tokens()
	resp, err := c.request(ctx, hc, method, path, body, access)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && retry && refresh != "" {
		_ = resp.Body.Close()
		if err := c.refresh(ctx, refresh); err != nil {
			return nil, err
		}
		return c.send(ctx, hc, method, path, body, false)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *Client) request(ctx context.Context, hc *http.Client, method, path string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// refresh exchanges the refresh token for a new pair. stale is the refresh
// token the failed request was sent with; if another caller already rotated
// it, refresh returns without a second exchange. A rejected refresh signs the
// user out.
func (c *Client) refresh(ctx context.Context, stale string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	_, current := c.tokens()
	if current == "" {
		return apperrors.ErrAuthRequired
	}
	if current != stale {
		return nil
	}

	var resp authResponse
	err := c.call(ctx, http.MethodPost, "/auth/refresh", struct {
		RefreshToken string `json:"refresh_token"`
	}{RefreshToken: current}, &resp, false)
	if err != nil {
		if isUnauthorized(err) {
			c.setSession(nil)
		}
		return err
	}
	c.setSession(resp.session())
	return nil
}

// decodeError turns an error response into an *AppError carrying the
// server's code.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope errorEnvelope
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
		return &apperrors.AppError{
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
			StatusCode: resp.StatusCode,
		}
	}
	return &apperrors.AppError{
		Code:       apperrors.ErrInternalServer.Code,
		Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
}

func isUnauthorized(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.StatusCode == http.StatusUnauthorized
}

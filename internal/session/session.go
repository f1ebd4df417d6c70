// Package session owns the access/refresh token pair and authenticated
// requests to the backend.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"cnsniper/internal/api"
	"cnsniper/internal/model"
	"cnsniper/internal/storage"
)

// Local storage keys of the token pair.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Forced logout causes.
var (
	ErrAccountDisabled = errors.New("account disabled")
	ErrRefreshFailed   = errors.New("token refresh failed")
	ErrSessionInvalid  = errors.New("session invalid")
)

// Message returns the text shown on the login screen for a forced logout.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrAccountDisabled):
		return "Your account has been disabled. Contact the administrator."
	case errors.Is(err, ErrRefreshFailed):
		return "Your session could not be renewed. Please log in again."
	case errors.Is(err, ErrSessionInvalid):
		return "Your session has expired. Please log in again."
	default:
		return ""
	}
}

// LogoutHook is called after the tokens were cleared. reason is nil for a
// user-initiated logout.
type LogoutHook func(reason error)

// RegisterRequest is the payload of the account registration endpoint.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

// Manager keeps the session tokens in storage and signs requests with them.
type Manager struct {
	baseURL string
	client  api.HTTPClient
	store   storage.Storage
	logger  *slog.Logger
	now     func() time.Time

	refresh singleflight.Group

	mu    sync.Mutex
	hooks []LogoutHook
}

// New creates a Manager for the API at baseURL.
func New(baseURL string, client api.HTTPClient, store storage.Storage, logger *slog.Logger) *Manager {
	return &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// OnLogout registers a hook run on every logout, forced or not.
func (m *Manager) OnLogout(hook LogoutHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Tokens returns the stored token pair. Missing tokens are empty strings.
func (m *Manager) Tokens(ctx context.Context) (model.Tokens, error) {
	access, _, err := m.store.GetItem(ctx, KeyAccessToken)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("load access token: %w", err)
	}
	refresh, _, err := m.store.GetItem(ctx, KeyRefreshToken)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("load refresh token: %w", err)
	}
	return model.Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// IsSessionValid reports whether both tokens are present and the access
// token has not expired.
func (m *Manager) IsSessionValid(ctx context.Context) bool {
	t, err := m.Tokens(ctx)
	if err != nil {
		m.logger.Warn("load tokens", "error", err)
		return false
	}
	if t.AccessToken == "" || t.RefreshToken == "" {
		return false
	}
	return !TokenExpired(t.AccessToken, m.now())
}

// Login exchanges credentials for a token pair and stores it.
func (m *Manager) Login(ctx context.Context, login, password string) error {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return api.Invalid("login and password are required")
	}

	var tokens model.Tokens
	if err := m.postJSON(ctx, "/auth/login", map[string]string{"login": login, "password": password}, &tokens); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return fmt.Errorf("login: %w", ErrSessionInvalid)
	}
	if err := m.setTokens(ctx, tokens); err != nil {
		return err
	}
	m.logger.Info("logged in", "login", login)
	return nil
}

// Register creates an account. The caller logs in afterwards.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	switch {
	case req.Username == "" || req.Email == "" || req.FirstName == "" || req.LastName == "" || req.Password == "":
		return api.Invalid("all fields are required")
	case utf8.RuneCountInString(req.Username) < 3:
		return api.Invalid("username must have at least 3 characters")
	case utf8.RuneCountInString(req.Password) < 8:
		return api.Invalid("password must have at least 8 characters")
	}

	if err := m.postJSON(ctx, "/auth/register", req, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	m.logger.Info("registered", "username", req.Username)
	return nil
}

// Logout clears the tokens and runs the logout hooks with a nil reason.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.clearTokens(ctx); err != nil {
		return err
	}
	m.runHooks(nil)
	return nil
}

// ForceLogout clears the tokens and runs the logout hooks with reason.
func (m *Manager) ForceLogout(ctx context.Context, reason error) {
	m.logger.Warn("forced logout", "reason", reason)
	if err := m.clearTokens(ctx); err != nil {
		m.logger.Error("clear tokens", "error", err)
	}
	m.runHooks(reason)
}

// AuthorizedRequest sends a request with the bearer token. A 401 triggers a
// single shared token refresh and exactly one retry. A 403 from the request
// or from the refresh disables the session.
//
// body, when non-nil, is encoded as JSON. The caller closes the response body.
func (m *Manager) AuthorizedRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
	}

	tokens, err := m.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		m.ForceLogout(ctx, ErrSessionInvalid)
		return nil, ErrSessionInvalid
	}

	resp, err := m.send(ctx, method, path, payload, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusForbidden:
		drain(resp)
		m.ForceLogout(ctx, ErrAccountDisabled)
		return nil, ErrAccountDisabled
	case http.StatusUnauthorized:
		drain(resp)
	default:
		return resp, nil
	}

	access, err := m.refreshAfter(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	resp, err = m.send(ctx, method, path, payload, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden {
		drain(resp)
		m.ForceLogout(ctx, ErrAccountDisabled)
		return nil, ErrAccountDisabled
	}
	return resp, nil
}

// refreshAfter returns an access token newer than stale, refreshing at most
// once across concurrent callers.
func (m *Manager) refreshAfter(ctx context.Context, stale string) (string, error) {
	v, err, _ := m.refresh.Do("refresh", func() (any, error) {
		// Waiters share this call; detach it from the starter's cancellation.
		ctx := context.WithoutCancel(ctx)

		current, err := m.Tokens(ctx)
		if err != nil {
			return "", err
		}
		if current.AccessToken != "" && current.AccessToken != stale {
			return current.AccessToken, nil
		}
		if current.RefreshToken == "" {
			m.ForceLogout(ctx, ErrSessionInvalid)
			return "", ErrSessionInvalid
		}
		return m.doRefresh(ctx, current.RefreshToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, refreshToken string) (string, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", fmt.Errorf("encode refresh: %w", err)
	}
	resp, err := m.send(ctx, http.MethodPost, "/auth/refresh", payload, "")
	if err != nil {
		m.ForceLogout(ctx, ErrRefreshFailed)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		m.ForceLogout(ctx, ErrAccountDisabled)
		return "", ErrAccountDisabled
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.ForceLogout(ctx, ErrRefreshFailed)
		return "", fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var tokens model.Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil || tokens.AccessToken == "" {
		m.ForceLogout(ctx, ErrRefreshFailed)
		return "", fmt.Errorf("%w: malformed response", ErrRefreshFailed)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	if err := m.setTokens(ctx, tokens); err != nil {
		return "", err
	}
	m.logger.Debug("access token refreshed")
	return tokens.AccessToken, nil
}

func (m *Manager) send(ctx context.Context, method, path string, payload []byte, access string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// postJSON sends an unauthenticated request and decodes the reply into out.
func (m *Manager) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	resp, err := m.send(ctx, http.MethodPost, path, payload, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return api.DecodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (m *Manager) setTokens(ctx context.Context, t model.Tokens) error {
	if err := m.store.SetItem(ctx, KeyAccessToken, t.AccessToken); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := m.store.SetItem(ctx, KeyRefreshToken, t.RefreshToken); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (m *Manager) clearTokens(ctx context.Context) error {
	if err := m.store.RemoveItem(ctx, KeyAccessToken); err != nil {
		return fmt.Errorf("clear access token: %w", err)
	}
	if err := m.store.RemoveItem(ctx, KeyRefreshToken); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

func (m *Manager) runHooks(reason error) {
	m.mu.Lock()
	hooks := append([]LogoutHook(nil), m.hooks...)
	m.mu.Unlock()
	for _, h := range hooks {
		h(reason)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

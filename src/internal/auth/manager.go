package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/eveningwater/github-issue-search/src/internal/api/apiErrors"
	"github.com/eveningwater/github-issue-search/src/internal/model"
	"github.com/eveningwater/github-issue-search/src/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticating  Status = "authenticating"
	StatusAuthenticated   Status = "authenticated"
	StatusFailed          Status = "failed"
)

const (
	// Scope requested on the authorization redirect.
	Scope = "user:email,repo"

	mockToken = "mock_token_for_demo"
)

// Endpoints are the three OAuth collaborator URLs. Overridable so
// tests can point the manager at local fakes.
type Endpoints struct {
	AuthorizeURL string
	TokenURL     string
	ProfileURL   string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		ProfileURL:   "https://api.github.com/user",
	}
}

// Manager owns the authorization-code flow and the persisted session.
// It is a state machine over unauthenticated / authenticating /
// authenticated / failed; every transition happens here and nowhere
// else.
type Manager struct {
	store       store.Store
	httpc       *http.Client
	endpoints   Endpoints
	redirectURI string
	log         *zap.Logger

	mu           sync.Mutex
	clientID     string
	clientSecret string
	status       Status
	token        string
	user         *model.User
	lastError    string
}

func NewManager(st store.Store, httpc *http.Client, endpoints Endpoints, redirectURI string, logger *zap.Logger) *Manager {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Manager{
		store:       st,
		httpc:       httpc,
		endpoints:   endpoints,
		redirectURI: redirectURI,
		log:         logger,
		status:      StatusUnauthenticated,
	}
}

// SetCredentials stores the OAuth app credentials. Reachability is not
// checked here; format checks belong to the configuration surface.
func (m *Manager) SetCredentials(clientID, clientSecret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientID = clientID
	m.clientSecret = clientSecret
	m.lastError = ""
}

func (m *Manager) IsConfigured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID != "" && m.clientSecret != ""
}

// Initialize restores a persisted session at process start. A stored
// token that no longer passes profile verification is treated as an
// invalid session: storage is cleared and the error surfaced.
func (m *Manager) Initialize(ctx context.Context) error {
	token, err := m.store.Get(ctx, store.KeyToken)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			m.setStatus(StatusUnauthenticated, "")
			return nil
		}
		return err
	}

	m.setStatus(StatusAuthenticating, "")
	m.log.Info("Initialize: verifying stored token")

	user, err := m.fetchProfile(ctx, token)
	if err != nil {
		m.log.Warn("Initialize: stored token rejected", zap.Error(err))
		m.clearSession(ctx)
		m.setStatus(StatusUnauthenticated, errorMessage(err))
		return err
	}

	if err := m.persistSession(ctx, token, user); err != nil {
		m.setStatus(StatusUnauthenticated, errorMessage(err))
		return err
	}

	m.mu.Lock()
	m.token = token
	m.user = user
	m.status = StatusAuthenticated
	m.lastError = ""
	m.mu.Unlock()

	m.log.Info("Initialize: session restored", zap.String("login", user.Login))
	return nil
}

// BeginLogin mints a single-use anti-forgery nonce, persists it, and
// returns the authorization URL. The caller redirects the user agent
// there; nothing is fetched.
func (m *Manager) BeginLogin(ctx context.Context) (string, error) {
	m.mu.Lock()
	clientID := m.clientID
	configured := m.clientID != "" && m.clientSecret != ""
	m.mu.Unlock()

	if !configured {
		return "", apiErrors.APIError{
			Code:    apiErrors.NotConfigured,
			Message: "OAuth is not configured, set a client ID and client secret first",
		}
	}

	nonce := uuid.New().String()
	if err := m.store.Set(ctx, store.KeyOAuthState, nonce); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", m.redirectURI)
	q.Set("scope", Scope)
	q.Set("state", nonce)

	m.log.Info("BeginLogin: authorization URL issued")
	return m.endpoints.AuthorizeURL + "?" + q.Encode(), nil
}

// HandleCallback validates the returned state, exchanges the code for
// a token, fetches the profile, and persists the session. The stored
// nonce is consumed on every attempt, match or not.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) error {
	nonce, err := m.store.Get(ctx, store.KeyOAuthState)
	// Single use: the nonce never survives a validation attempt.
	_ = m.store.Delete(ctx, store.KeyOAuthState)
	if err != nil || state == "" || state != nonce {
		m.log.Warn("HandleCallback: state mismatch")
		e := apiErrors.APIError{Code: apiErrors.InvalidState, Message: "invalid state parameter"}
		m.setStatus(StatusFailed, e.Message)
		return e
	}

	m.setStatus(StatusAuthenticating, "")

	token, err := m.exchangeCode(ctx, code)
	if err != nil {
		m.setStatus(StatusFailed, errorMessage(err))
		return err
	}

	user, err := m.fetchProfile(ctx, token)
	if err != nil {
		m.setStatus(StatusFailed, errorMessage(err))
		return err
	}

	if err := m.persistSession(ctx, token, user); err != nil {
		m.setStatus(StatusFailed, errorMessage(err))
		return err
	}

	m.mu.Lock()
	m.token = token
	m.user = user
	m.status = StatusAuthenticated
	m.lastError = ""
	m.mu.Unlock()

	m.log.Info("HandleCallback: user authenticated", zap.String("login", user.Login))
	return nil
}

// MockLogin bypasses the provider entirely and installs a fixed demo
// session. Meant for environments without configured credentials.
func (m *Manager) MockLogin(ctx context.Context) error {
	user := &model.User{
		ID:          12345,
		Login:       "demo-user",
		Name:        "Demo User",
		Email:       "demo@example.com",
		AvatarURL:   "https://avatars.githubusercontent.com/u/12345?v=4",
		HTMLURL:     "https://github.com/demo-user",
		Bio:         "This is a demo user for testing",
		PublicRepos: 42,
		Followers:   100,
		Following:   50,
		CreatedAt:   "2020-01-01T00:00:00Z",
	}

	if err := m.persistSession(ctx, mockToken, user); err != nil {
		m.setStatus(StatusFailed, errorMessage(err))
		return err
	}

	m.mu.Lock()
	m.token = mockToken
	m.user = user
	m.status = StatusAuthenticated
	m.lastError = ""
	m.mu.Unlock()

	m.log.Info("MockLogin: demo session installed")
	return nil
}

// Logout clears the persisted session and returns to unauthenticated.
// Safe to call any number of times.
func (m *Manager) Logout(ctx context.Context) {
	m.clearSession(ctx)
	m.mu.Lock()
	m.token = ""
	m.user = nil
	m.status = StatusUnauthenticated
	m.lastError = ""
	m.mu.Unlock()
	m.log.Info("Logout: session cleared")
}

// Token implements the client's token source; "" when logged out.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Manager) User() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// errorMessage strips the typed-error envelope down to the message
// shown to the user.
func errorMessage(err error) string {
	var e apiErrors.APIError
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func (m *Manager) setStatus(status Status, message string) {
	m.mu.Lock()
	m.status = status
	m.lastError = message
	m.mu.Unlock()
}

func (m *Manager) exchangeCode(ctx context.Context, code string) (string, error) {
	m.mu.Lock()
	payload := map[string]string{
		"client_id":     m.clientID,
		"client_secret": m.clientSecret,
		"code":          code,
		"redirect_uri":  m.redirectURI,
	}
	m.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoints.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", apiErrors.APIError{Code: apiErrors.TokenExchangeFailed, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", apiErrors.APIError{Code: apiErrors.TokenExchangeFailed, Message: err.Error()}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			m.log.Error("exchangeCode: close body failed", zap.Error(err))
		}
	}()

	var tokenResp struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", apiErrors.APIError{Code: apiErrors.TokenExchangeFailed, Message: "failed to get access token"}
	}
	if tokenResp.Error != "" || tokenResp.AccessToken == "" {
		message := tokenResp.ErrorDescription
		if message == "" {
			message = "failed to get access token"
		}
		m.log.Warn("exchangeCode: provider error", zap.String("error", tokenResp.Error))
		return "", apiErrors.APIError{Code: apiErrors.TokenExchangeFailed, Message: message}
	}
	return tokenResp.AccessToken, nil
}

func (m *Manager) fetchProfile(ctx context.Context, token string) (*model.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoints.ProfileURL, nil)
	if err != nil {
		return nil, apiErrors.APIError{Code: apiErrors.ProfileFetchFailed, Message: err.Error()}
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, apiErrors.APIError{Code: apiErrors.ProfileFetchFailed, Message: err.Error()}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			m.log.Error("fetchProfile: close body failed", zap.Error(err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiErrors.APIError{Code: apiErrors.ProfileFetchFailed, Message: "failed to get user info"}
	}

	var user model.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, apiErrors.APIError{Code: apiErrors.ProfileFetchFailed, Message: "failed to get user info"}
	}
	return &user, nil
}

func (m *Manager) persistSession(ctx context.Context, token string, user *model.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, store.KeyToken, token); err != nil {
		return err
	}
	return m.store.Set(ctx, store.KeyUser, string(userJSON))
}

func (m *Manager) clearSession(ctx context.Context) {
	for _, key := range []string{store.KeyToken, store.KeyUser, store.KeyOAuthState} {
		if err := m.store.Delete(ctx, key); err != nil {
			m.log.Warn("clearSession: delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

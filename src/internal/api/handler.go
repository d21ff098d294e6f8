package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/eveningwater/github-issue-search/src/internal/api/apiErrors"
	"github.com/eveningwater/github-issue-search/src/internal/auth"
	"github.com/eveningwater/github-issue-search/src/internal/github"
	"github.com/eveningwater/github-issue-search/src/internal/search"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
)

var credentialFormat = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type Handler struct {
	searches *search.Controller
	sessions *auth.Manager
	client   *github.Client
	appURL   string
	log      *zap.Logger
}

func NewHandler(searches *search.Controller, sessions *auth.Manager, client *github.Client, appURL string, logger *zap.Logger) *Handler {
	return &Handler{
		searches: searches,
		sessions: sessions,
		client:   client,
		appURL:   appURL,
		log:      logger,
	}
}

func RegisterRoutes(r *chi.Mux, h *Handler) {
	r.Get("/api/search", withTimeout(h.search))
	r.Post("/api/search/more", withTimeout(h.loadMore))
	r.Delete("/api/search", withTimeout(h.clearSearch))
	r.Get("/api/ratelimit", withTimeout(h.rateLimit))
	r.Get("/auth/login", withTimeout(h.login))
	r.Get("/auth/callback", withTimeout(h.callback))
	r.Post("/auth/mock", withTimeout(h.mockLogin))
	r.Post("/auth/logout", withTimeout(h.logout))
	r.Get("/auth/status", withTimeout(h.status))
	r.Post("/auth/config", withTimeout(h.configure))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

func withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// search runs a fresh query (or a specific page of it) and returns the
// resulting session snapshot. Search failures are part of the snapshot,
// not HTTP errors.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 {
			writeError(w, http.StatusBadRequest, apiErrors.InvalidQuery, "page must be a positive integer")
			return
		}
		page = p
	}
	session := h.searches.Search(r.Context(), query, page)
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) loadMore(w http.ResponseWriter, r *http.Request) {
	session := h.searches.LoadMore(r.Context())
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) clearSearch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.searches.Clear())
}

func (h *Handler) rateLimit(w http.ResponseWriter, _ *http.Request) {
	info := h.client.RateLimit()
	writeJSON(w, http.StatusOK, map[string]any{
		"remaining":           info.Remaining,
		"reset":               info.Reset,
		"limited":             h.client.IsRateLimited(),
		"seconds_until_reset": h.client.TimeUntilReset(),
	})
}

// login redirects the user agent to the provider's authorization page.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.sessions.BeginLogin(r.Context())
	if err != nil {
		handleSvcError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// callback consumes the provider redirect exactly once, then sends the
// user agent back to the app URL so code and state disappear from the
// visible address.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if err := h.sessions.HandleCallback(r.Context(), code, state); err != nil {
		h.log.Warn("callback failed", zap.Error(err))
		http.Redirect(w, r, h.appURL+"?auth_error="+url.QueryEscape(string(errorCode(err))), http.StatusTemporaryRedirect)
		return
	}
	http.Redirect(w, r, h.appURL, http.StatusTemporaryRedirect)
}

func (h *Handler) mockLogin(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.MockLogin(r.Context()); err != nil {
		handleSvcError(w, err)
		return
	}
	h.status(w, r)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": string(auth.StatusUnauthenticated)})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	status := h.sessions.Status()
	resp := map[string]any{
		"status":        string(status),
		"authenticated": status == auth.StatusAuthenticated,
		"configured":    h.sessions.IsConfigured(),
	}
	if user := h.sessions.User(); user != nil {
		resp["user"] = user
	}
	if msg := h.sessions.LastError(); msg != "" {
		resp["error"] = msg
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) configure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" || req.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError, "client_id and client_secret required")
		return
	}
	if !credentialFormat.MatchString(req.ClientID) || !credentialFormat.MatchString(req.ClientSecret) {
		writeError(w, http.StatusBadRequest, apiErrors.InternalError, "credentials must contain only letters, digits and underscores")
		return
	}
	h.sessions.SetCredentials(req.ClientID, req.ClientSecret)
	writeJSON(w, http.StatusOK, map[string]any{"configured": h.sessions.IsConfigured()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, errCode apiErrors.ErrorCode, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"code": errCode, "message": message},
	})
}

func errorCode(err error) apiErrors.ErrorCode {
	var e apiErrors.APIError
	if errors.As(err, &e) {
		return e.Code
	}
	return apiErrors.InternalError
}

func handleSvcError(w http.ResponseWriter, err error) {
	var e apiErrors.APIError
	switch {
	case errors.As(err, &e):
		switch e.Code {
		case apiErrors.NotConfigured:
			writeError(w, http.StatusConflict, e.Code, e.Message)
		case apiErrors.InvalidState:
			writeError(w, http.StatusBadRequest, e.Code, e.Message)
		case apiErrors.InvalidQuery:
			writeError(w, http.StatusBadRequest, e.Code, e.Message)
		case apiErrors.RateLimited:
			writeError(w, http.StatusTooManyRequests, e.Code, e.Message)
		case apiErrors.TokenExchangeFailed:
			writeError(w, http.StatusBadGateway, e.Code, e.Message)
		case apiErrors.ProfileFetchFailed:
			writeError(w, http.StatusBadGateway, e.Code, e.Message)
		case apiErrors.NotFound:
			writeError(w, http.StatusNotFound, e.Code, e.Message)
		default:
			writeError(w, http.StatusInternalServerError, apiErrors.InternalError, e.Message)
		}
	default:
		writeError(w, http.StatusInternalServerError, apiErrors.InternalError, err.Error())
	}
}

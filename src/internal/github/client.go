package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/eveningwater/github-issue-search/src/internal/api/apiErrors"
	"github.com/eveningwater/github-issue-search/src/internal/model"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.github.com"

	defaultSort    = "created"
	defaultOrder   = "desc"
	defaultPerPage = 30

	acceptHeader = "application/vnd.github.v3+json"
	userAgent    = "GitHub-Issue-Search-App"
)

// TokenSource supplies the current access token, or "" when the user
// is not logged in.
type TokenSource interface {
	Token() string
}

type SearchParams struct {
	Query   string
	Sort    string
	Order   string
	PerPage int
	Page    int
}

type RateLimitInfo struct {
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Client calls the issue search endpoint and tracks the API rate-limit
// quota from response headers. One instance is shared by all callers;
// the counters are updated on every response, success or failure.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenSource
	log     *zap.Logger

	mu        sync.Mutex
	remaining int
	reset     int64

	now func() time.Time
}

func NewClient(baseURL string, httpc *http.Client, tokens TokenSource, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		baseURL:   baseURL,
		httpc:     httpc,
		tokens:    tokens,
		log:       logger,
		remaining: 60,
		now:       time.Now,
	}
}

// SearchIssues runs one search request. The query is always scoped to
// issues with an `is:issue` qualifier; zero-valued params fall back to
// sort=created, order=desc, per_page=30, page=1. Failures map to the
// typed error codes and are terminal for the call; nothing is retried.
func (c *Client) SearchIssues(ctx context.Context, params SearchParams) (model.SearchResponse, error) {
	if params.Sort == "" {
		params.Sort = defaultSort
	}
	if params.Order == "" {
		params.Order = defaultOrder
	}
	if params.PerPage <= 0 {
		params.PerPage = defaultPerPage
	}
	if params.Page <= 0 {
		params.Page = 1
	}

	q := url.Values{}
	q.Set("q", "is:issue "+params.Query)
	q.Set("sort", params.Sort)
	q.Set("order", params.Order)
	q.Set("per_page", strconv.Itoa(params.PerPage))
	q.Set("page", strconv.Itoa(params.Page))

	reqURL := c.baseURL + "/search/issues?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.SearchResponse{}, apiErrors.APIError{Code: apiErrors.NetworkError, Message: err.Error()}
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	c.log.Debug("SearchIssues: request", zap.String("query", params.Query), zap.Int("page", params.Page))

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Warn("SearchIssues: transport failure", zap.Error(err))
		return model.SearchResponse{}, apiErrors.APIError{Code: apiErrors.NetworkError, Message: "network request failed"}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Error("SearchIssues: close body failed", zap.Error(err))
		}
	}()

	c.updateRateLimit(resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.SearchResponse{}, mapStatus(resp.StatusCode)
	}

	var sr model.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		c.log.Warn("SearchIssues: decode failed", zap.Error(err))
		return model.SearchResponse{}, apiErrors.APIError{Code: apiErrors.NetworkError, Message: "network request failed"}
	}

	c.log.Info("SearchIssues: success",
		zap.String("query", params.Query),
		zap.Int("page", params.Page),
		zap.Int("total_count", sr.TotalCount),
		zap.Int("items", len(sr.Items)),
	)
	return sr, nil
}

func mapStatus(status int) apiErrors.APIError {
	switch status {
	case http.StatusForbidden:
		return apiErrors.APIError{Code: apiErrors.RateLimited, Message: "API rate limit exceeded, try again later"}
	case http.StatusUnprocessableEntity:
		return apiErrors.APIError{Code: apiErrors.InvalidQuery, Message: "invalid search query"}
	default:
		return apiErrors.APIError{
			Code:    apiErrors.RequestFailed,
			Message: fmt.Sprintf("request failed: %d", status),
			Status:  status,
		}
	}
}

// updateRateLimit records quota state from the response headers. An
// absent or unparseable remaining header counts as exhausted.
func (c *Client) updateRateLimit(header http.Header) {
	remaining, err := strconv.Atoi(header.Get("X-RateLimit-Remaining"))
	if err != nil {
		remaining = 0
	}
	reset, err := strconv.ParseInt(header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		reset = 0
	}

	c.mu.Lock()
	c.remaining = remaining
	c.reset = reset
	c.mu.Unlock()
}

func (c *Client) RateLimit() RateLimitInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RateLimitInfo{Remaining: c.remaining, Reset: c.reset}
}

func (c *Client) IsRateLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining <= 0
}

// TimeUntilReset reports how long until the quota window resets, in
// seconds. Never negative.
func (c *Client) TimeUntilReset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.reset - c.now().Unix()
	if until < 0 {
		return 0
	}
	return until
}

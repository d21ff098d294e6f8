package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eveningwater/github-issue-search/src/internal/api/apiErrors"
	"github.com/eveningwater/github-issue-search/src/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticTokens string

func (t staticTokens) Token() string { return string(t) }

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client(), staticTokens(token), zap.NewNop()), srv
}

func TestSearchIssues_RequestShape(t *testing.T) {
	var gotQuery map[string]string
	var gotAuth, gotAccept string

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"q":        q.Get("q"),
			"sort":     q.Get("sort"),
			"order":    q.Get("order"),
			"per_page": q.Get("per_page"),
			"page":     q.Get("page"),
		}
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("X-RateLimit-Remaining", "59")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		_ = json.NewEncoder(w).Encode(model.SearchResponse{TotalCount: 1, Items: []model.RawIssue{{ID: 1, Title: "bug"}}})
	}, "tok-123")

	resp, err := client.SearchIssues(context.Background(), SearchParams{Query: "bug"})
	require.NoError(t, err)

	assert.Equal(t, "is:issue bug", gotQuery["q"])
	assert.Equal(t, "created", gotQuery["sort"])
	assert.Equal(t, "desc", gotQuery["order"])
	assert.Equal(t, "30", gotQuery["per_page"])
	assert.Equal(t, "1", gotQuery["page"])
	assert.Equal(t, "token tok-123", gotAuth)
	assert.Equal(t, "application/vnd.github.v3+json", gotAccept)

	assert.Equal(t, 1, resp.TotalCount)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "bug", resp.Items[0].Title)
}

func TestSearchIssues_UnauthenticatedWithoutToken(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(model.SearchResponse{})
	}, "")

	_, err := client.SearchIssues(context.Background(), SearchParams{Query: "bug"})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestSearchIssues_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantCode   apiErrors.ErrorCode
		wantStatus int
	}{
		{name: "forbidden is rate limited", status: http.StatusForbidden, wantCode: apiErrors.RateLimited},
		{name: "unprocessable is invalid query", status: http.StatusUnprocessableEntity, wantCode: apiErrors.InvalidQuery},
		{name: "teapot is request failed", status: http.StatusTeapot, wantCode: apiErrors.RequestFailed, wantStatus: http.StatusTeapot},
		{name: "server error is request failed", status: http.StatusBadGateway, wantCode: apiErrors.RequestFailed, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, "")

			_, err := client.SearchIssues(context.Background(), SearchParams{Query: "bug"})
			var apiErr apiErrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantStatus, apiErr.Status)
		})
	}
}

func TestSearchIssues_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, http.DefaultClient, staticTokens(""), zap.NewNop())
	_, err := client.SearchIssues(context.Background(), SearchParams{Query: "bug"})

	var apiErr apiErrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiErrors.NetworkError, apiErr.Code)
}

func TestRateLimit_UpdatedOnEveryResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1700000100")
		w.WriteHeader(http.StatusForbidden)
	}, "")
	client.now = func() time.Time { return time.Unix(1700000040, 0) }

	assert.False(t, client.IsRateLimited(), "fresh client starts with quota")

	_, err := client.SearchIssues(context.Background(), SearchParams{Query: "bug"})
	require.Error(t, err, "failed responses still update the counters")

	assert.True(t, client.IsRateLimited())
	assert.Equal(t, RateLimitInfo{Remaining: 0, Reset: 1700000100}, client.RateLimit())
	assert.Equal(t, int64(60), client.TimeUntilReset())
}

func TestRateLimit_MissingHeadersCountAsExhausted(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.SearchResponse{})
	}, "")

	_, err := client.SearchIssues(context.Background(), SearchParams{Query: "bug"})
	require.NoError(t, err)

	assert.True(t, client.IsRateLimited())
	assert.Equal(t, RateLimitInfo{Remaining: 0, Reset: 0}, client.RateLimit())
}

func TestTimeUntilReset_NeverNegative(t *testing.T) {
	client := NewClient("", nil, staticTokens(""), zap.NewNop())
	client.reset = 100
	client.now = func() time.Time { return time.Unix(500, 0) }

	assert.Equal(t, int64(0), client.TimeUntilReset())
}

func TestSearchIssues_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.SearchIssues(ctx, SearchParams{Query: "bug"})
	var apiErr apiErrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiErrors.NetworkError, apiErr.Code)
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
}

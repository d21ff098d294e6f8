package search

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/eveningwater/github-issue-search/src/internal/api/apiErrors"
	"github.com/eveningwater/github-issue-search/src/internal/github"
	"github.com/eveningwater/github-issue-search/src/internal/model"

	"go.uber.org/zap"
)

const perPage = 30

// Searcher is the slice of the API client the controller needs.
type Searcher interface {
	SearchIssues(ctx context.Context, params github.SearchParams) (model.SearchResponse, error)
}

// Controller owns the search session: query, accumulated pages, and
// the has-more computation. Requests carry a monotonically increasing
// sequence number; a response that resolves after a newer request was
// issued is discarded, so the latest issued request always wins.
type Controller struct {
	client Searcher
	log    *zap.Logger

	mu      sync.Mutex
	session model.SearchSession
	seq     uint64
}

func NewController(client Searcher, logger *zap.Logger) *Controller {
	return &Controller{
		client:  client,
		log:     logger,
		session: emptySession(),
	}
}

func emptySession() model.SearchSession {
	return model.SearchSession{CurrentPage: 1}
}

// Session returns a snapshot of the current state.
func (c *Controller) Session() model.SearchSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.SearchSession {
	s := c.session
	s.Results = append([]model.Issue(nil), c.session.Results...)
	return s
}

// Search runs one page of a search. A blank query clears the session
// and issues no request. Page 1 replaces the accumulated results, any
// later page appends to them. Errors never propagate; they land in the
// session's error field.
func (c *Controller) Search(ctx context.Context, query string, page int) model.SearchSession {
	if page < 1 {
		page = 1
	}

	c.mu.Lock()
	if strings.TrimSpace(query) == "" {
		// Clearing invalidates any in-flight request too.
		c.seq++
		c.session = emptySession()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}

	c.seq++
	seq := c.seq
	c.session.Query = query
	c.session.Loading = true
	c.session.Error = ""
	c.mu.Unlock()

	resp, err := c.client.SearchIssues(ctx, github.SearchParams{
		Query:   query,
		PerPage: perPage,
		Page:    page,
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		c.log.Debug("Search: stale response discarded",
			zap.String("query", query), zap.Int("page", page))
		return c.snapshotLocked()
	}

	if err != nil {
		c.session.Loading = false
		c.session.Error = errorMessage(err)
		c.session.HasMore = false
		if page == 1 {
			c.session.Results = nil
		}
		c.log.Warn("Search: failed",
			zap.String("query", query), zap.Int("page", page), zap.Error(err))
		return c.snapshotLocked()
	}

	items := make([]model.Issue, 0, len(resp.Items))
	for _, raw := range resp.Items {
		items = append(items, model.Issue{
			RawIssue:   raw,
			Repository: DeriveRepository(raw.RepositoryURL),
		})
	}

	if page == 1 {
		c.session.Results = items
	} else {
		c.session.Results = append(c.session.Results, items...)
	}
	c.session.Loading = false
	c.session.Error = ""
	c.session.TotalCount = resp.TotalCount
	c.session.CurrentPage = page
	c.session.HasMore = len(resp.Items) == perPage && len(c.session.Results) < resp.TotalCount

	c.log.Info("Search: success",
		zap.String("query", query),
		zap.Int("page", page),
		zap.Int("results", len(c.session.Results)),
		zap.Bool("has_more", c.session.HasMore),
	)
	return c.snapshotLocked()
}

// LoadMore fetches the next page of the current query. A no-op unless
// there is more to fetch and no request is in flight.
func (c *Controller) LoadMore(ctx context.Context) model.SearchSession {
	c.mu.Lock()
	if !c.session.HasMore || c.session.Loading {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}
	query := c.session.Query
	page := c.session.CurrentPage + 1
	c.mu.Unlock()

	return c.Search(ctx, query, page)
}

// Clear resets the session to its empty defaults.
func (c *Controller) Clear() model.SearchSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.session = emptySession()
	return c.snapshotLocked()
}

// DeriveRepository extracts repository info from the repository_url
// field. Anything that does not parse falls back to "Unknown".
func DeriveRepository(repoURL string) model.Repository {
	repo := model.Repository{Name: "Unknown", FullName: "Unknown", HTMLURL: repoURL}
	_, after, found := strings.Cut(repoURL, "/repos/")
	if !found || after == "" {
		return repo
	}
	repo.FullName = after
	parts := strings.Split(after, "/")
	if len(parts) >= 2 && parts[1] != "" {
		repo.Name = parts[1]
	}
	return repo
}

func errorMessage(err error) string {
	var e apiErrors.APIError
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

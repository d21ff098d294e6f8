package model

import "time"

type IssueUser struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Assignee struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

type PullRequestRef struct {
	HTMLURL string `json:"html_url"`
}

// Repository is derived from repository_url, because the search API
// omits structured repository data on issue items.
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

// RawIssue is a search result item exactly as the API returns it.
type RawIssue struct {
	ID            int64           `json:"id"`
	Number        int             `json:"number"`
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	State         string          `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	HTMLURL       string          `json:"html_url"`
	RepositoryURL string          `json:"repository_url"`
	User          IssueUser       `json:"user"`
	Labels        []Label         `json:"labels"`
	Assignee      *Assignee       `json:"assignee,omitempty"`
	Comments      int             `json:"comments"`
	PullRequest   *PullRequestRef `json:"pull_request,omitempty"`
}

// Issue is a RawIssue with the repository info filled in.
type Issue struct {
	RawIssue
	Repository Repository `json:"repository"`
}

type SearchResponse struct {
	TotalCount        int        `json:"total_count"`
	IncompleteResults bool       `json:"incomplete_results"`
	Items             []RawIssue `json:"items"`
}

type User struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
	HTMLURL     string `json:"html_url"`
	Bio         string `json:"bio"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	CreatedAt   string `json:"created_at"`
}

// SearchSession is the accumulated state of one search flow. Results
// are replaced on a fresh query (page 1) and appended on continuation
// pages, in the order the API returned them.
type SearchSession struct {
	Query       string  `json:"query"`
	Results     []Issue `json:"results"`
	Loading     bool    `json:"loading"`
	Error       string  `json:"error,omitempty"`
	TotalCount  int     `json:"total_count"`
	CurrentPage int     `json:"current_page"`
	HasMore     bool    `json:"has_more"`
}

type AppError string

func (e AppError) Error() string { return string(e) }

const ErrNotFound = AppError("NOT_FOUND")

package search

import (
	"context"

	"orderdesk/api/internal/store"
)

// Result is a single directory hit returned to the caller.
type Result struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
}

// Query describes a directory search.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a directory search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer pushes organizations into the primary index.
type Indexer interface {
	IndexOrganizations(records []Record) error
	DeleteOrganization(id int64) error
}

// Backend is a searcher that also owns its index.
type Backend interface {
	Searcher
	Indexer
}

// Record is the data we index for an organization.
type Record struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func RecordFromOrganization(org store.Organization) Record {
	return Record{ID: org.ID, Name: org.Name, Slug: org.Slug, Description: org.Description}
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

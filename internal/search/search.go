// Package search indexes knowledge-base entries for staff lookup and for the
// assistant's answer context.
package search

import "context"

// Result is a single knowledge-base hit.
type Result struct {
	ID               string `json:"id"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory,omitempty"`
	Title            string `json:"title"`
	Snippet          string `json:"snippet"`
	Content          string `json:"content"`
	SourceQuestionID string `json:"sourceQuestionId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text     string
	Category string // empty = all categories
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// EntryRecord is the data we index for a knowledge-base entry.
type EntryRecord struct {
	ID               string `json:"id"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	SourceQuestionID string `json:"sourceQuestionId"`
	CreatedAt        int64  `json:"createdAt"`
}

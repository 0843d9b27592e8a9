package search

import (
	"context"
	"strings"

	"venueportal/api/internal/assistant"
)

// KnowledgeStore is the Postgres side of the knowledge base.
type KnowledgeStore interface {
	SearchKnowledge(ctx context.Context, query string, limit int) ([]assistant.KBEntry, error)
	ListKnowledge(ctx context.Context) ([]assistant.KBEntry, error)
}

// PgFTS implements Searcher with Postgres full-text search as a fallback.
type PgFTS struct {
	store KnowledgeStore
}

func NewPgFTS(store KnowledgeStore) *PgFTS {
	return &PgFTS{store: store}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	// over-fetch so the category filter and offset still fill a page
	entries, err := p.store.SearchKnowledge(ctx, q.Text, 50)
	if err != nil {
		return nil, 0, err
	}

	var matched []Result
	for _, entry := range entries {
		if q.Category != "" && !strings.EqualFold(entry.Category, q.Category) {
			continue
		}
		matched = append(matched, entryToResult(entry))
	}
	total := len(matched)
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// LoadAllRecords reads every entry for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]EntryRecord, error) {
	entries, err := p.store.ListKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]EntryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, RecordFor(entry))
	}
	return records, nil
}

func RecordFor(entry assistant.KBEntry) EntryRecord {
	return EntryRecord{
		ID:               entry.ID,
		Category:         entry.Category,
		Subcategory:      entry.Subcategory,
		Title:            entry.Title,
		Content:          entry.Content,
		SourceQuestionID: entry.SourceQuestionID,
		CreatedAt:        entry.CreatedAt.Unix(),
	}
}

func entryToResult(entry assistant.KBEntry) Result {
	return Result{
		ID:               entry.ID,
		Category:         entry.Category,
		Subcategory:      entry.Subcategory,
		Title:            entry.Title,
		Content:          entry.Content,
		Snippet:          snippet(entry.Content),
		SourceQuestionID: entry.SourceQuestionID,
	}
}

func snippet(content string) string {
	const max = 160
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

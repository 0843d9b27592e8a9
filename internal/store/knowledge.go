package store

import (
	"context"
	"fmt"
	"strings"

	"venueportal/api/internal/assistant"
)

const kbColumns = `id, category, subcategory, title, content, COALESCE(source_question_id, ''), created_by, created_at`

// SearchKnowledge ranks knowledge-base entries with Postgres full-text search.
func (s *PostgresStore) SearchKnowledge(ctx context.Context, query string, limit int) ([]assistant.KBEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []assistant.KBEntry{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+kbColumns+`
		FROM knowledge_base
		WHERE search_vector @@ websearch_to_tsquery('english', $1)
		ORDER BY ts_rank(search_vector, websearch_to_tsquery('english', $1)) DESC, created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}
	defer rows.Close()
	return scanKBEntries(rows)
}

// ListKnowledge returns every entry, newest first. The search index and the
// journal are rebuilt from it.
func (s *PostgresStore) ListKnowledge(ctx context.Context) ([]assistant.KBEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+kbColumns+` FROM knowledge_base ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge base: %w", err)
	}
	defer rows.Close()
	return scanKBEntries(rows)
}

type kbRows interface {
	rowScanner
	Next() bool
	Err() error
}

func scanKBEntries(rows kbRows) ([]assistant.KBEntry, error) {
	entries := []assistant.KBEntry{}
	for rows.Next() {
		var e assistant.KBEntry
		if err := rows.Scan(&e.ID, &e.Category, &e.Subcategory, &e.Title, &e.Content, &e.SourceQuestionID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan kb entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

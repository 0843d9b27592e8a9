package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/assistant"
)

// Service tries Meilisearch first and falls back to Postgres FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		log.Warn().Err(err).Msg("search: meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("search: pgfts error")
		return Response{Results: []Result{}, Query: q.Text, Engine: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "pgfts"}
}

// Passages formats the best matches as answer context for the assistant.
func (s *Service) Passages(ctx context.Context, question string, limit int) []string {
	resp := s.Search(ctx, Query{Text: question, Limit: limit})
	passages := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		passages = append(passages, fmt.Sprintf("%s: %s", r.Title, r.Content))
	}
	return passages
}

// EntryPromoted indexes a committed entry (fire-and-forget to Meilisearch).
func (s *Service) EntryPromoted(_ context.Context, entry assistant.KBEntry) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	record := RecordFor(entry)
	go func() {
		if err := s.meili.IndexEntry(record); err != nil {
			log.Warn().Err(err).Str("kb_id", record.ID).Msg("search: index entry failed")
		}
	}()
	return nil
}

// ReindexAllFromPG pushes every stored entry into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("search: reindex load failed")
		return
	}
	if err := s.meili.IndexEntries(records); err != nil {
		log.Warn().Err(err).Int("entries", len(records)).Msg("search: reindex failed")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

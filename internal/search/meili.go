package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const idxKnowledge = "venue_knowledge"

// Meili implements Searcher against a Meilisearch knowledge index.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects and configures the index. An unreachable server leaves the
// client unhealthy; the health loop picks it up once it recovers.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxKnowledge, PrimaryKey: "id"}); err != nil {
		log.Debug().Err(err).Msg("search: create knowledge index (may already exist)")
	}

	index := m.client.Index(idxKnowledge)
	filterable := []interface{}{"category", "subcategory"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Msg("search: update filterable attributes")
	}
	searchable := []string{"title", "content", "category", "subcategory"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Msg("search: update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Msg("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	req := &meili.SearchRequest{
		IndexUID:              idxKnowledge,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"content"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.Category != "" {
		req.Filter = []string{fmt.Sprintf("category = %q", q.Category)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: []*meili.SearchRequest{req}})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	content := decodeString(hit, "content")
	return Result{
		ID:               decodeString(hit, "id"),
		Category:         decodeString(hit, "category"),
		Subcategory:      decodeString(hit, "subcategory"),
		Title:            decodeString(hit, "title"),
		Content:          content,
		Snippet:          firstNonBlank(decodeFormattedString(hit, "content"), snippet(content)),
		SourceQuestionID: decodeString(hit, "sourceQuestionId"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexEntry(entry EntryRecord) error {
	_, err := m.client.Index(idxKnowledge).AddDocuments([]EntryRecord{entry}, nil)
	return err
}

func (m *Meili) IndexEntries(entries []EntryRecord) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxKnowledge).AddDocuments(entries, nil)
	return err
}

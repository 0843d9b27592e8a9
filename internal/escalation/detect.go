// Package escalation flags weddings whose recent inbound messages contain
// distress language.
package escalation

import (
	"sort"
	"strings"
	"time"

	"venueportal/api/internal/comms"
)

// Keywords is an ordered set of lowercase distress terms.
type Keywords struct {
	terms []string
}

func NewKeywords(terms []string) Keywords {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return Keywords{terms: out}
}

func (k Keywords) Terms() []string {
	return append([]string(nil), k.terms...)
}

// Match returns the first term found in text, case-insensitively.
func (k Keywords) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, term := range k.terms {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}

// Message is a record that contributed to an escalation.
type Message struct {
	RecordID   string         `json:"recordId"`
	Provider   comms.Provider `json:"provider"`
	OccurredAt time.Time      `json:"occurredAt"`
	Keyword    string         `json:"keyword"`
	Body       string         `json:"body"`
}

type State struct {
	WeddingID     string     `json:"weddingId"`
	HasEscalation bool       `json:"hasEscalation"`
	Count         int        `json:"count"`
	Messages      []Message  `json:"messages"`
	HandledAt     *time.Time `json:"handledAt,omitempty"`
}

// Detect derives the escalation state from a wedding's records. Only the
// client's own words count (see comms.Record.ClientWords), inside
// [now-window, now] and strictly after handledAt. Staff lines of a transcript
// never raise an escalation.
func Detect(records []comms.Record, handledAt *time.Time, now time.Time, window time.Duration, keywords Keywords) State {
	state := State{HandledAt: handledAt, Messages: []Message{}}
	since := now.Add(-window)
	for _, rec := range records {
		if state.WeddingID == "" {
			state.WeddingID = rec.WeddingID
		}
		if rec.OccurredAt.Before(since) || rec.OccurredAt.After(now) {
			continue
		}
		words := rec.ClientWords()
		if words == "" {
			continue
		}
		if handledAt != nil && !rec.OccurredAt.After(*handledAt) {
			continue
		}
		term, ok := keywords.Match(words)
		if !ok {
			continue
		}
		state.Messages = append(state.Messages, Message{
			RecordID:   rec.ID,
			Provider:   rec.Provider,
			OccurredAt: rec.OccurredAt,
			Keyword:    term,
			Body:       words,
		})
	}
	sort.SliceStable(state.Messages, func(i, j int) bool {
		return state.Messages[i].OccurredAt.After(state.Messages[j].OccurredAt)
	})
	state.Count = len(state.Messages)
	state.HasEscalation = state.Count > 0
	return state
}

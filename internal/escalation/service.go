package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/activity"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/util"
)

type Store interface {
	activity.Log
	// EscalationHandledAt fails for unknown weddings.
	EscalationHandledAt(ctx context.Context, weddingID string) (*time.Time, error)
	// MarkEscalationHandled stores GREATEST(handled_at, at) and returns the
	// stored value.
	MarkEscalationHandled(ctx context.Context, weddingID string, at time.Time) (time.Time, error)
	ClientRecordsSince(ctx context.Context, weddingID string, since time.Time) ([]comms.Record, error)
	ListWeddingIDs(ctx context.Context) ([]string, error)
}

type Notifier interface {
	EscalationRaised(ctx context.Context, weddingID string, msg Message) error
}

type Options struct {
	Window    time.Duration
	WindowFor func(weddingID string) time.Duration
	Keywords  []string
}

type Service struct {
	store    Store
	keywords Keywords
	opts     Options
	notifier Notifier
	now      func() time.Time
}

func NewService(store Store, opts Options) *Service {
	if opts.Window <= 0 {
		opts.Window = 7 * 24 * time.Hour
	}
	return &Service{store: store, keywords: NewKeywords(opts.Keywords), opts: opts, now: time.Now}
}

func (s *Service) WithNotifier(notifier Notifier) *Service {
	s.notifier = notifier
	return s
}

func (s *Service) window(weddingID string) time.Duration {
	if s.opts.WindowFor != nil {
		if w := s.opts.WindowFor(weddingID); w > 0 {
			return w
		}
	}
	return s.opts.Window
}

// State computes the escalation state from stored records on every call.
func (s *Service) State(ctx context.Context, weddingID string) (State, error) {
	handledAt, err := s.store.EscalationHandledAt(ctx, weddingID)
	if err != nil {
		return State{}, fmt.Errorf("load escalation cursor: %w", err)
	}
	now := s.now().UTC()
	window := s.window(weddingID)
	records, err := s.store.ClientRecordsSince(ctx, weddingID, now.Add(-window))
	if err != nil {
		return State{}, fmt.Errorf("load inbound records: %w", err)
	}
	state := Detect(records, handledAt, now, window, s.keywords)
	state.WeddingID = weddingID
	return state, nil
}

// StateAll returns the state of every wedding, escalated ones first.
func (s *Service) StateAll(ctx context.Context) ([]State, error) {
	ids, err := s.store.ListWeddingIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list weddings: %w", err)
	}
	escalated := make([]State, 0, len(ids))
	var quiet []State
	for _, id := range ids {
		state, err := s.State(ctx, id)
		if err != nil {
			return nil, err
		}
		if state.HasEscalation {
			escalated = append(escalated, state)
		} else {
			quiet = append(quiet, state)
		}
	}
	return append(escalated, quiet...), nil
}

// MarkHandled clears the current escalation. Messages at or before the
// returned cursor no longer count; the cursor never moves backwards.
func (s *Service) MarkHandled(ctx context.Context, weddingID string) (State, error) {
	at, err := s.store.MarkEscalationHandled(ctx, weddingID, s.now().UTC())
	if err != nil {
		return State{}, fmt.Errorf("mark escalation handled: %w", err)
	}
	entry := activity.Entry{
		ID:        util.NewID("act"),
		Kind:      activity.KindEscalation,
		WeddingID: weddingID,
		Summary:   "escalation marked handled at " + at.Format(time.RFC3339),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendActivity(ctx, entry); err != nil {
		log.Warn().Err(err).Str("wedding_id", weddingID).Msg("escalation: append activity failed")
	}
	return s.State(ctx, weddingID)
}

// Observe notifies staff when a newly stored record raises an escalation.
func (s *Service) Observe(ctx context.Context, rec comms.Record) {
	if s.notifier == nil || !rec.Resolved() {
		return
	}
	words := rec.ClientWords()
	term, ok := s.keywords.Match(words)
	if !ok {
		return
	}
	now := s.now().UTC()
	if rec.OccurredAt.Before(now.Add(-s.window(rec.WeddingID))) {
		return
	}
	handledAt, err := s.store.EscalationHandledAt(ctx, rec.WeddingID)
	if err != nil {
		log.Warn().Err(err).Str("wedding_id", rec.WeddingID).Msg("escalation: load cursor failed")
		return
	}
	if handledAt != nil && !rec.OccurredAt.After(*handledAt) {
		return
	}
	msg := Message{RecordID: rec.ID, Provider: rec.Provider, OccurredAt: rec.OccurredAt, Keyword: term, Body: words}
	if err := s.notifier.EscalationRaised(ctx, rec.WeddingID, msg); err != nil {
		log.Warn().Err(err).Str("wedding_id", rec.WeddingID).Msg("escalation: staff notification failed")
	}
}

package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/activity"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/util"
)

// Extractor turns message text into candidate planning facts. Implementations
// are best-effort and may return no candidates.
type Extractor interface {
	Extract(ctx context.Context, text string, taxonomy []Category) ([]Candidate, error)
}

type Store interface {
	activity.Log
	// FindActiveNote returns the pending, added or confirmed note with the
	// given key, if any.
	FindActiveNote(ctx context.Context, weddingID string, category Category, contentKey string) (Note, bool, error)
	// InsertNote reports false when a uniqueness constraint suppressed the row.
	InsertNote(ctx context.Context, note Note) (bool, error)
	GetNote(ctx context.Context, noteID string) (Note, error)
	// SetNoteStatus changes status only if the note is still in from.
	SetNoteStatus(ctx context.Context, noteID string, from, to Status, at time.Time) (bool, error)
	ListNotes(ctx context.Context, weddingID string, status Status) ([]Note, error)
}

type Options struct {
	Taxonomy         []Category
	MinContentLength int
	Timeout          time.Duration
}

type Service struct {
	store     Store
	extractor Extractor
	opts      Options
	now       func() time.Time

	lockMu sync.Mutex
	locks  map[string]*keyedLock
}

// keyedLock is a mutex shared by every caller working on one key. refs counts
// holders and waiters so the entry can go once nobody needs it.
type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(store Store, extractor Extractor, opts Options) *Service {
	if len(opts.Taxonomy) == 0 {
		opts.Taxonomy = DefaultTaxonomy()
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &Service{
		store:     store,
		extractor: extractor,
		opts:      opts,
		now:       time.Now,
		locks:     make(map[string]*keyedLock),
	}
}

// Result summarizes one extraction pass over a record.
type Result struct {
	Created    []Note `json:"created"`
	Confirmed  []Note `json:"confirmed"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
}

// Extract asks the capability for facts in rec and persists the new ones as
// pending notes. Capability errors and timeouts are returned wrapped in
// ErrExtractionFailed; store errors are returned as-is.
func (s *Service) Extract(ctx context.Context, rec comms.Record) (Result, error) {
	if !rec.Resolved() {
		return Result{}, fmt.Errorf("extract %s %s: record is not attributed", rec.Provider, rec.ExternalID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	candidates, err := s.extractor.Extract(callCtx, rec.Body, s.opts.Taxonomy)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %s %s: %v", ErrExtractionFailed, rec.Provider, rec.ExternalID, err)
	}

	var result Result
	for _, candidate := range candidates {
		content := strings.TrimSpace(candidate.Content)
		if len([]rune(content)) <= s.opts.MinContentLength {
			result.Rejected++
			continue
		}
		category := s.categoryFor(candidate.Category, rec.Provider)

		created, confirmed, err := s.persist(ctx, rec, category, content, strings.TrimSpace(candidate.Excerpt))
		if err != nil {
			return result, err
		}
		switch {
		case created != nil:
			result.Created = append(result.Created, *created)
		case confirmed != nil:
			result.Confirmed = append(result.Confirmed, *confirmed)
			result.Duplicates++
		default:
			result.Duplicates++
		}
	}

	if len(result.Created) > 0 || len(result.Confirmed) > 0 {
		entry := activity.Entry{
			ID:        util.NewID("act"),
			Kind:      activity.KindNotesExtracted,
			Provider:  string(rec.Provider),
			WeddingID: rec.WeddingID,
			Summary: fmt.Sprintf("%d planning notes extracted, %d confirmed from %s message %s",
				len(result.Created), len(result.Confirmed), rec.Provider, rec.ExternalID),
			CreatedAt: s.now().UTC(),
		}
		if err := s.store.AppendActivity(ctx, entry); err != nil {
			return result, fmt.Errorf("append activity: %w", err)
		}
	}
	return result, nil
}

// persist runs the dedup check and insert as one critical section per
// (wedding, category). The unique index on the notes table covers other
// processes.
func (s *Service) persist(ctx context.Context, rec comms.Record, category Category, content, excerpt string) (*Note, *Note, error) {
	unlock := s.lockCategory(rec.WeddingID, category)
	defer unlock()

	key := ContentKey(content)
	existing, found, err := s.store.FindActiveNote(ctx, rec.WeddingID, category, key)
	if err != nil {
		return nil, nil, fmt.Errorf("find note: %w", err)
	}
	now := s.now().UTC()
	if found {
		if existing.Status == StatusPending && existing.SourceProvider != rec.Provider {
			changed, err := s.store.SetNoteStatus(ctx, existing.ID, StatusPending, StatusConfirmed, now)
			if err != nil {
				return nil, nil, fmt.Errorf("confirm note: %w", err)
			}
			if changed {
				existing.Status = StatusConfirmed
				existing.UpdatedAt = now
				return nil, &existing, nil
			}
		}
		log.Debug().Str("wedding_id", rec.WeddingID).Str("category", string(category)).Msg("notes: duplicate suppressed")
		return nil, nil, nil
	}

	note := Note{
		ID:             util.NewID("note"),
		WeddingID:      rec.WeddingID,
		Category:       category,
		Content:        content,
		Excerpt:        excerpt,
		ContentKey:     key,
		SourceProvider: rec.Provider,
		SourceRecordID: rec.ID,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.store.InsertNote(ctx, note)
	if err != nil {
		return nil, nil, fmt.Errorf("insert note: %w", err)
	}
	if !inserted {
		return nil, nil, nil
	}
	return &note, nil, nil
}

func (s *Service) categoryFor(category Category, provider comms.Provider) Category {
	category = Category(strings.ToLower(strings.TrimSpace(string(category))))
	for _, known := range s.opts.Taxonomy {
		if known == category {
			return category
		}
	}
	return ProviderCategory(provider)
}

// lockCategory takes the (wedding, category) lock and returns its release.
// The entry is dropped when the last holder releases it.
func (s *Service) lockCategory(weddingID string, category Category) func() {
	key := weddingID + "/" + string(category)

	s.lockMu.Lock()
	entry, ok := s.locks[key]
	if !ok {
		entry = &keyedLock{}
		s.locks[key] = entry
	}
	entry.refs++
	s.lockMu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		s.lockMu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.locks, key)
		}
		s.lockMu.Unlock()
	}
}

// UpdateStatus applies a staff or sync status change to a note. Setting the
// current status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, noteID string, status Status) (Note, error) {
	if !status.Valid() {
		return Note{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return Note{}, err
	}
	if note.Status == status {
		return note, nil
	}
	if !CanTransition(note.Status, status) {
		return Note{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, note.Status, status)
	}

	now := s.now().UTC()
	changed, err := s.store.SetNoteStatus(ctx, noteID, note.Status, status, now)
	if err != nil {
		if errors.Is(err, ErrDuplicateNote) {
			return Note{}, err
		}
		return Note{}, fmt.Errorf("update note status: %w", err)
	}
	if !changed {
		return Note{}, fmt.Errorf("%w: note %s changed concurrently", ErrInvalidTransition, noteID)
	}

	from := note.Status
	note.Status = status
	note.UpdatedAt = now
	entry := activity.Entry{
		ID:        util.NewID("act"),
		Kind:      activity.KindNoteStatus,
		Provider:  string(note.SourceProvider),
		WeddingID: note.WeddingID,
		Summary:   fmt.Sprintf("note %s moved from %s to %s", note.ID, from, status),
		CreatedAt: now,
	}
	if err := s.store.AppendActivity(ctx, entry); err != nil {
		log.Warn().Err(err).Str("note_id", note.ID).Msg("notes: append status activity failed")
	}
	return note, nil
}

// List returns a wedding's notes, optionally filtered by status.
func (s *Service) List(ctx context.Context, weddingID string, status Status) ([]Note, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	notes, err := s.store.ListNotes(ctx, weddingID, status)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

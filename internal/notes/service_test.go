package notes

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venueportal/api/internal/activity"
	"venueportal/api/internal/comms"
)

// memStore keeps notes in memory. Its find and insert are deliberately not
// atomic so tests exercise the service's own critical section.
type memStore struct {
	mu       sync.Mutex
	notes    map[string]Note
	activity []activity.Entry

	insertFn   func(Note) (bool, error)
	activityFn func(activity.Entry) error
}

func newMemStore() *memStore {
	return &memStore{notes: make(map[string]Note)}
}

func (m *memStore) AppendActivity(_ context.Context, entry activity.Entry) error {
	if m.activityFn != nil {
		if err := m.activityFn(entry); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, entry)
	return nil
}

func (m *memStore) FindActiveNote(_ context.Context, weddingID string, category Category, key string) (Note, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, note := range m.notes {
		if note.WeddingID == weddingID && note.Category == category && note.ContentKey == key && note.Status != StatusDismissed {
			return note, true, nil
		}
	}
	return Note{}, false, nil
}

func (m *memStore) InsertNote(_ context.Context, note Note) (bool, error) {
	if m.insertFn != nil {
		return m.insertFn(note)
	}
	time.Sleep(time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[note.ID] = note
	return true, nil
}

func (m *memStore) GetNote(_ context.Context, id string) (Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[id]
	if !ok {
		return Note{}, errors.New("not found")
	}
	return note, nil
}

func (m *memStore) SetNoteStatus(_ context.Context, id string, from, to Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[id]
	if !ok || note.Status != from {
		return false, nil
	}
	if to != StatusDismissed {
		for _, other := range m.notes {
			if other.ID != id && other.WeddingID == note.WeddingID && other.Category == note.Category &&
				other.ContentKey == note.ContentKey && other.Status != StatusDismissed {
				return false, ErrDuplicateNote
			}
		}
	}
	note.Status = to
	note.UpdatedAt = at
	m.notes[id] = note
	return true, nil
}

func (m *memStore) ListNotes(_ context.Context, weddingID string, status Status) ([]Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Note
	for _, note := range m.notes {
		if note.WeddingID == weddingID && (status == "" || note.Status == status) {
			out = append(out, note)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type stubExtractor struct {
	fn func(ctx context.Context, text string) ([]Candidate, error)
}

func (s stubExtractor) Extract(ctx context.Context, text string, _ []Category) ([]Candidate, error) {
	return s.fn(ctx, text)
}

// echoExtractor proposes the whole body as one vendor fact.
func echoExtractor() stubExtractor {
	return stubExtractor{fn: func(_ context.Context, text string) ([]Candidate, error) {
		return []Candidate{{Category: CategoryVendor, Content: text, Excerpt: text}}, nil
	}}
}

func record(provider comms.Provider, id, body string) comms.Record {
	return comms.Record{
		ID:         "rec_" + id,
		Provider:   provider,
		ExternalID: id,
		WeddingID:  "wed_1",
		Direction:  comms.DirectionInbound,
		Body:       body,
		OccurredAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestExtractDeduplicatesNormalizedContent(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, echoExtractor(), Options{})

	first, err := svc.Extract(context.Background(), record(comms.ProviderEmail, "e1", "Caterer is Acme Foods"))
	require.NoError(t, err)
	require.Len(t, first.Created, 1)
	assert.Equal(t, StatusPending, first.Created[0].Status)

	second, err := svc.Extract(context.Background(), record(comms.ProviderEmail, "e2", "caterer   is acme foods"))
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Equal(t, 1, second.Duplicates)

	notes, err := svc.List(context.Background(), "wed_1", "")
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Len(t, store.activity, 1, "only the extraction that created a note is logged")
	assert.Equal(t, "email", store.activity[0].Provider)
}

func TestExtractRecreatesDismissedFact(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, echoExtractor(), Options{})
	ctx := context.Background()

	first, err := svc.Extract(ctx, record(comms.ProviderSMS, "s1", "Florist is Bloom Co"))
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, first.Created[0].ID, StatusDismissed)
	require.NoError(t, err)

	again, err := svc.Extract(ctx, record(comms.ProviderSMS, "s2", "Florist is Bloom Co"))
	require.NoError(t, err)
	assert.Len(t, again.Created, 1)

	// reopening the dismissed copy now collides with the new pending note
	_, err = svc.UpdateStatus(ctx, first.Created[0].ID, StatusPending)
	assert.ErrorIs(t, err, ErrDuplicateNote)
}

func TestExtractConfirmsAcrossProviders(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, echoExtractor(), Options{})
	ctx := context.Background()

	_, err := svc.Extract(ctx, record(comms.ProviderEmail, "e1", "Photographer is Lens & Light"))
	require.NoError(t, err)

	result, err := svc.Extract(ctx, record(comms.ProviderZoom, "z1", "photographer is lens & light"))
	require.NoError(t, err)
	require.Len(t, result.Confirmed, 1)
	assert.Equal(t, StatusConfirmed, result.Confirmed[0].Status)

	// same provider again is a plain duplicate
	result, err = svc.Extract(ctx, record(comms.ProviderEmail, "e2", "Photographer is Lens & Light"))
	require.NoError(t, err)
	assert.Empty(t, result.Confirmed)
	assert.Equal(t, 1, result.Duplicates)
}

func TestExtractRejectsShortAndFoldsUnknownCategories(t *testing.T) {
	store := newMemStore()
	extractor := stubExtractor{fn: func(context.Context, string) ([]Candidate, error) {
		return []Candidate{
			{Category: CategoryNote, Content: "  ok "},
			{Category: CategoryNote, Content: ""},
			{Category: "music", Content: "String quartet for the ceremony"},
			{Category: "Guest_Count", Content: "About 140 guests"},
		}, nil
	}}
	svc := NewService(store, extractor, Options{})

	result, err := svc.Extract(context.Background(), record(comms.ProviderCall, "c1", "transcript"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rejected)
	require.Len(t, result.Created, 2)

	categories := []Category{result.Created[0].Category, result.Created[1].Category}
	assert.ElementsMatch(t, []Category{Category("call"), CategoryGuestCount}, categories)
}

func TestExtractFailuresAreWrapped(t *testing.T) {
	t.Run("capability error", func(t *testing.T) {
		svc := NewService(newMemStore(), stubExtractor{fn: func(context.Context, string) ([]Candidate, error) {
			return nil, errors.New("model overloaded")
		}}, Options{})
		_, err := svc.Extract(context.Background(), record(comms.ProviderEmail, "e1", "hello"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExtractionFailed)
		assert.Contains(t, err.Error(), "model overloaded")
	})

	t.Run("timeout", func(t *testing.T) {
		svc := NewService(newMemStore(), stubExtractor{fn: func(ctx context.Context, _ string) ([]Candidate, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}, Options{Timeout: 10 * time.Millisecond})
		_, err := svc.Extract(context.Background(), record(comms.ProviderEmail, "e1", "hello"))
		assert.ErrorIs(t, err, ErrExtractionFailed)
	})

	t.Run("unattributed record", func(t *testing.T) {
		svc := NewService(newMemStore(), echoExtractor(), Options{})
		rec := record(comms.ProviderEmail, "e1", "hello there")
		rec.WeddingID = ""
		_, err := svc.Extract(context.Background(), rec)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrExtractionFailed)
	})

	t.Run("store error is not an extraction failure", func(t *testing.T) {
		store := newMemStore()
		store.insertFn = func(Note) (bool, error) { return false, errors.New("connection reset") }
		svc := NewService(store, echoExtractor(), Options{})
		_, err := svc.Extract(context.Background(), record(comms.ProviderEmail, "e1", "Caterer is Acme"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrExtractionFailed)
	})
}

func TestExtractConcurrentSameFactCreatesOneNote(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, echoExtractor(), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Extract(context.Background(), record(comms.ProviderEmail, string(rune('a'+i)), "DJ is Night Owl Sound"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	notes, err := svc.List(context.Background(), "wed_1", StatusPending)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Empty(t, svc.locks, "category locks outlived their holders")
}

func TestLockCategoryIsExclusiveAndReleasesEntries(t *testing.T) {
	svc := NewService(newMemStore(), echoExtractor(), Options{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := svc.lockCategory("wed_1", "vendor")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)

	for _, wedding := range []string{"wed_1", "wed_2", "wed_3"} {
		svc.lockCategory(wedding, "allergy")()
	}
	assert.Empty(t, svc.locks)
}

func TestUpdateStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		wantErr bool
	}{
		{StatusPending, StatusAdded, false},
		{StatusPending, StatusDismissed, false},
		{StatusPending, StatusConfirmed, false},
		{StatusDismissed, StatusPending, false},
		{StatusAdded, StatusAdded, false},
		{StatusAdded, StatusConfirmed, true},
		{StatusDismissed, StatusConfirmed, true},
		{StatusAdded, StatusPending, true},
		{StatusConfirmed, StatusPending, true},
		{StatusPending, Status("archived"), true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			store := newMemStore()
			store.notes["note_1"] = Note{ID: "note_1", WeddingID: "wed_1", Category: CategoryDecor, ContentKey: "k", Status: tt.from}
			svc := NewService(store, echoExtractor(), Options{})

			updated, err := svc.UpdateStatus(context.Background(), "note_1", tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, store.notes["note_1"].Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, updated.Status)
			assert.Equal(t, tt.to, store.notes["note_1"].Status)
		})
	}
}

func TestContentKeyNormalizes(t *testing.T) {
	assert.Equal(t, ContentKey("Caterer is Acme Foods"), ContentKey("  caterer IS\tacme   foods "))
	assert.NotEqual(t, ContentKey("Caterer is Acme Foods"), ContentKey("Caterer is Acme Food"))
	assert.Len(t, ContentKey("x"), 64)
}

func TestTaxonomyFrom(t *testing.T) {
	got := TaxonomyFrom([]string{"Vendor", " decor ", "", "vendor"})
	assert.Equal(t, []Category{CategoryVendor, CategoryDecor}, got)
}

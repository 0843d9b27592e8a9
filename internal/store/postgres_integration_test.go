package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venueportal/api/internal/assistant"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/identity"
	"venueportal/api/internal/notes"
	"venueportal/api/internal/syncer"
	"venueportal/api/internal/util"
)

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("VENUE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("VENUE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, resetPublicSchema(ctx, db))
	_, err = ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"))
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func seedWedding(t *testing.T, s *PostgresStore) (Wedding, identity.Profile) {
	t.Helper()
	ctx := context.Background()
	wedding, err := s.CreateWedding(ctx, "Sam & Alex", nil)
	require.NoError(t, err)
	profile, err := s.AddProfile(ctx, identity.Profile{WeddingID: wedding.ID, Name: "Sam Rivera", Email: "Sam@Example.com"})
	require.NoError(t, err)
	return wedding, profile
}

func TestSaveRecordIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	wedding, _ := seedWedding(t, s)
	ctx := context.Background()

	rec := comms.Record{
		ID: util.NewID("msg"), Provider: comms.ProviderEmail, ExternalID: "gmail-1",
		ContactEmail: "sam@example.com", Direction: comms.DirectionInbound,
		Body: "We are worried about parking", OccurredAt: time.Now().UTC(),
	}
	first, err := s.SaveRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, first.Inserted)
	assert.Empty(t, first.Record.WeddingID)

	// the redelivery gets attributed once the profile resolves it
	rec.ID = util.NewID("msg")
	rec.WeddingID = wedding.ID
	second, err := s.SaveRecord(ctx, rec)
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, wedding.ID, second.Record.WeddingID)
	assert.False(t, second.Extracted)

	require.NoError(t, s.MarkExtracted(ctx, second.Record.ID, time.Now()))
	third, err := s.SaveRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, third.Extracted)

	inbound, err := s.ClientRecordsSince(ctx, wedding.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, inbound, 1)
}

func TestActiveNoteIndex(t *testing.T) {
	s := openTestStore(t)
	wedding, _ := seedWedding(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	note := notes.Note{
		ID: util.NewID("note"), WeddingID: wedding.ID, Category: notes.CategoryVendor,
		Content: "Caterer is Acme Foods", ContentKey: notes.ContentKey("Caterer is Acme Foods"),
		SourceProvider: comms.ProviderEmail, Status: notes.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	inserted, err := s.InsertNote(ctx, note)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := note
	dup.ID = util.NewID("note")
	inserted, err = s.InsertNote(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	changed, err := s.SetNoteStatus(ctx, note.ID, notes.StatusPending, notes.StatusDismissed, now)
	require.NoError(t, err)
	assert.True(t, changed)

	inserted, err = s.InsertNote(ctx, dup)
	require.NoError(t, err)
	assert.True(t, inserted, "a dismissed fact can be proposed again")

	_, err = s.SetNoteStatus(ctx, note.ID, notes.StatusDismissed, notes.StatusPending, now)
	assert.ErrorIs(t, err, notes.ErrDuplicateNote)

	found, ok, err := s.FindActiveNote(ctx, wedding.ID, notes.CategoryVendor, note.ContentKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dup.ID, found.ID)

	_, err = s.GetNote(ctx, "note_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEscalationCursorIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	wedding, _ := seedWedding(t, s)
	ctx := context.Background()
	later := time.Now().UTC().Truncate(time.Microsecond)

	stored, err := s.MarkEscalationHandled(ctx, wedding.ID, later)
	require.NoError(t, err)
	assert.True(t, stored.Equal(later))

	stored, err = s.MarkEscalationHandled(ctx, wedding.ID, later.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, stored.Equal(later))

	_, err = s.MarkEscalationHandled(ctx, "wed_missing", later)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaffAnswerTransaction(t *testing.T) {
	s := openTestStore(t)
	wedding, _ := seedWedding(t, s)
	ctx := context.Background()

	q := assistant.Question{ID: util.NewID("uq"), WeddingID: wedding.ID, Question: "Rain plan?", TentativeAnswer: "Maybe", Confidence: 40, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.InsertQuestion(ctx, q))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx assistant.TxStore) error {
		require.NoError(t, tx.InsertKBEntry(ctx, assistant.KBEntry{ID: util.NewID("kb"), Category: "venue", Title: "Rain plan", Content: "Barn", SourceQuestionID: q.ID, CreatedAt: time.Now()}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := s.ListKnowledge(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = s.InTx(ctx, func(tx assistant.TxStore) error {
		if err := tx.InsertKBEntry(ctx, assistant.KBEntry{ID: util.NewID("kb"), Category: "venue", Title: "Rain plan", Content: "The barn is reserved", SourceQuestionID: q.ID, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return tx.MarkQuestionAnswered(ctx, assistant.StaffAnswer{QuestionID: q.ID, Answer: "The barn is reserved", AnsweredAt: time.Now(), PromotedToKB: true, KBCategory: "venue"})
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx assistant.TxStore) error {
		return tx.MarkQuestionAnswered(ctx, assistant.StaffAnswer{QuestionID: q.ID, Answer: "again", AnsweredAt: time.Now()})
	})
	assert.ErrorIs(t, err, assistant.ErrQuestionClosed)

	open, err := s.ListOpenQuestions(ctx, wedding.ID)
	require.NoError(t, err)
	assert.Empty(t, open)

	hits, err := s.SearchKnowledge(ctx, "barn", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestCursorsAndInbox(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cursor, err := s.LoadCursor(ctx, comms.ProviderSMS)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusIdle, cursor.Status)

	now := time.Now().UTC()
	require.NoError(t, s.SaveCursor(ctx, syncer.Cursor{Provider: comms.ProviderSMS, Position: "00000000000000000007", SyncedAt: &now, Status: syncer.StatusIdle}))
	cursor, err = s.LoadCursor(ctx, comms.ProviderSMS)
	require.NoError(t, err)
	assert.Equal(t, "00000000000000000007", cursor.Position)

	seq, inserted, err := s.InsertInbox(ctx, comms.ProviderSMS, "sms-1", []byte(`{"messageId":"sms-1"}`))
	require.NoError(t, err)
	assert.True(t, inserted)
	again, inserted, err := s.InsertInbox(ctx, comms.ProviderSMS, "sms-1", []byte(`{"messageId":"sms-1"}`))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, seq, again)

	entries, err := s.ClaimInbox(ctx, comms.ProviderSMS, 0, true, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"messageId":"sms-1"}`, string(entries[0].Payload))

	late, _, err := s.InsertInbox(ctx, comms.ProviderSMS, "sms-2", []byte(`{"messageId":"sms-2"}`))
	require.NoError(t, err)
	require.NoError(t, s.AckInbox(ctx, comms.ProviderSMS, late))
	entries, err = s.ClaimInbox(ctx, comms.ProviderSMS, 0, true, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "an entry never handed out stays pending")
	assert.Equal(t, "sms-2", entries[0].ExternalID)

	require.NoError(t, s.AckInbox(ctx, comms.ProviderSMS, late))
	entries, err = s.ClaimInbox(ctx, comms.ProviderSMS, 0, true, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	entries, err = s.ClaimInbox(ctx, comms.ProviderSMS, 0, false, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

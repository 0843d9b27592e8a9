package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venueportal/api/internal/activity"
)

var errNotFound = errors.New("not found")

// fakeStore stages transactional writes and applies them only when fn
// returns nil.
type fakeStore struct {
	mu        sync.Mutex
	questions map[string]Question
	kb        []KBEntry
	activity  []activity.Entry

	insertQuestionErr error
	insertKBErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{questions: make(map[string]Question)}
}

func (f *fakeStore) AppendActivity(_ context.Context, entry activity.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, entry)
	return nil
}

func (f *fakeStore) InsertQuestion(_ context.Context, q Question) error {
	if f.insertQuestionErr != nil {
		return f.insertQuestionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions[q.ID] = q
	return nil
}

func (f *fakeStore) GetQuestion(_ context.Context, id string) (Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[id]
	if !ok {
		return Question{}, errNotFound
	}
	return q, nil
}

func (f *fakeStore) ListOpenQuestions(_ context.Context, weddingID string) ([]Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Question
	for _, q := range f.questions {
		if !q.Answered() && (weddingID == "" || q.WeddingID == weddingID) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteQuestion(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.questions[id]; !ok {
		return errNotFound
	}
	delete(f.questions, id)
	return nil
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	tx := &fakeTx{store: f}
	if err := fn(tx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kb = append(f.kb, tx.kb...)
	for _, a := range tx.answers {
		q := f.questions[a.QuestionID]
		at := a.AnsweredAt
		q.StaffAnswer = a.Answer
		q.AnsweredAt = &at
		q.PromotedToKB = a.PromotedToKB
		f.questions[a.QuestionID] = q
	}
	return nil
}

type fakeTx struct {
	store   *fakeStore
	kb      []KBEntry
	answers []StaffAnswer
}

func (t *fakeTx) InsertKBEntry(_ context.Context, entry KBEntry) error {
	if t.store.insertKBErr != nil {
		return t.store.insertKBErr
	}
	t.kb = append(t.kb, entry)
	return nil
}

func (t *fakeTx) MarkQuestionAnswered(_ context.Context, answer StaffAnswer) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	q, ok := t.store.questions[answer.QuestionID]
	if !ok {
		return errNotFound
	}
	if q.Answered() {
		return ErrQuestionClosed
	}
	t.answers = append(t.answers, answer)
	return nil
}

type fixedAnswerer struct {
	answer Answer
	err    error
	block  bool
}

func (f fixedAnswerer) AnswerWithConfidence(ctx context.Context, _ string, _ []string) (Answer, error) {
	if f.block {
		<-ctx.Done()
		return Answer{}, ctx.Err()
	}
	return f.answer, f.err
}

type recordingSink struct{ entries []KBEntry }

func (s *recordingSink) EntryPromoted(_ context.Context, entry KBEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func TestAskThresholdBoundary(t *testing.T) {
	tests := []struct {
		confidence int
		wantQueued bool
	}{
		{0, true},
		{74, true},
		{75, false},
		{100, false},
	}

	for _, tt := range tests {
		store := newFakeStore()
		router := NewRouter(store, fixedAnswerer{answer: Answer{Text: "Ceremony chairs are included.", Confidence: tt.confidence}}, Options{Threshold: 75})

		reply, err := router.Ask(context.Background(), "wed_1", "Are chairs included?")
		require.NoError(t, err)
		assert.Equal(t, "Ceremony chairs are included.", reply.Answer, "confidence %d", tt.confidence)
		assert.Equal(t, tt.wantQueued, reply.Queued, "confidence %d", tt.confidence)
		if tt.wantQueued {
			assert.Len(t, store.questions, 1)
			q := store.questions[reply.QuestionID]
			assert.Equal(t, tt.confidence, q.Confidence)
			assert.Equal(t, "Ceremony chairs are included.", q.TentativeAnswer)
			assert.False(t, q.Answered())
		} else {
			assert.Empty(t, store.questions)
		}
	}
}

func TestAskPerWeddingThreshold(t *testing.T) {
	store := newFakeStore()
	router := NewRouter(store, fixedAnswerer{answer: Answer{Text: "Yes.", Confidence: 80}}, Options{
		Threshold: 75,
		ThresholdFor: func(weddingID string) int {
			if weddingID == "wed_strict" {
				return 90
			}
			return 0
		},
	})

	reply, err := router.Ask(context.Background(), "wed_1", "Is parking free?")
	require.NoError(t, err)
	assert.False(t, reply.Queued)

	reply, err = router.Ask(context.Background(), "wed_strict", "Is parking free?")
	require.NoError(t, err)
	assert.True(t, reply.Queued)
}

func TestAskUnavailable(t *testing.T) {
	tests := map[string]Answerer{
		"error":        fixedAnswerer{err: errors.New("upstream 500")},
		"over 100":     fixedAnswerer{answer: Answer{Text: "x", Confidence: 101}},
		"negative":     fixedAnswerer{answer: Answer{Text: "x", Confidence: -1}},
		"empty answer": fixedAnswerer{answer: Answer{Text: "  ", Confidence: 90}},
		"timeout":      fixedAnswerer{block: true},
	}

	for name, answerer := range tests {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			router := NewRouter(store, answerer, Options{Timeout: 10 * time.Millisecond})
			_, err := router.Ask(context.Background(), "wed_1", "When can we tour?")
			assert.ErrorIs(t, err, ErrAnswerUnavailable)
			assert.Empty(t, store.questions, "no question is recorded without an answer")
		})
	}
}

func TestAskQueueFailureStillAnswers(t *testing.T) {
	store := newFakeStore()
	store.insertQuestionErr = errors.New("db down")
	router := NewRouter(store, fixedAnswerer{answer: Answer{Text: "Maybe.", Confidence: 10}}, Options{})

	reply, err := router.Ask(context.Background(), "wed_1", "Can we bring a dog?")
	require.NoError(t, err)
	assert.Equal(t, "Maybe.", reply.Answer)
	assert.False(t, reply.Queued)
}

func TestSubmitStaffAnswerPromotesToKB(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	router := NewRouter(store, fixedAnswerer{answer: Answer{Text: "Probably.", Confidence: 40}}, Options{}).WithSinks(sink)
	ctx := context.Background()

	reply, err := router.Ask(ctx, "wed_1", "Is there a rain plan?")
	require.NoError(t, err)
	require.True(t, reply.Queued)

	q, err := router.SubmitStaffAnswer(ctx, reply.QuestionID, "Yes, the barn is reserved as a rain backup.", PromoteOptions{
		AddToKB: true, Category: "venue", Subcategory: "weather", AnsweredBy: "staff_1",
	})
	require.NoError(t, err)
	assert.True(t, q.Answered())
	assert.True(t, q.PromotedToKB)

	require.Len(t, store.kb, 1)
	assert.Equal(t, "Is there a rain plan?", store.kb[0].Title)
	assert.Equal(t, reply.QuestionID, store.kb[0].SourceQuestionID)
	assert.Len(t, sink.entries, 1)

	open, err := router.ListOpen(ctx, "wed_1")
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = router.SubmitStaffAnswer(ctx, reply.QuestionID, "again", PromoteOptions{})
	assert.ErrorIs(t, err, ErrQuestionClosed)
}

func TestSubmitStaffAnswerKBFailureLeavesQuestionOpen(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	router := NewRouter(store, fixedAnswerer{answer: Answer{Text: "Unsure.", Confidence: 20}}, Options{}).WithSinks(sink)
	ctx := context.Background()

	reply, err := router.Ask(ctx, "wed_1", "What time must music stop?")
	require.NoError(t, err)

	store.insertKBErr = errors.New("unique violation")
	_, err = router.SubmitStaffAnswer(ctx, reply.QuestionID, "10pm per county ordinance.", PromoteOptions{AddToKB: true, Category: "policies"})
	require.Error(t, err)

	q := store.questions[reply.QuestionID]
	assert.False(t, q.Answered())
	assert.Empty(t, q.StaffAnswer)
	assert.Empty(t, store.kb)
	assert.Empty(t, sink.entries)

	open, err := router.ListOpen(ctx, "wed_1")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSubmitStaffAnswerValidation(t *testing.T) {
	router := NewRouter(newFakeStore(), fixedAnswerer{}, Options{})

	_, err := router.SubmitStaffAnswer(context.Background(), "uq_1", " ", PromoteOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = router.SubmitStaffAnswer(context.Background(), "uq_1", "answer", PromoteOptions{AddToKB: true})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteQuestionAnsweredOrNot(t *testing.T) {
	store := newFakeStore()
	router := NewRouter(store, fixedAnswerer{answer: Answer{Text: "Hmm.", Confidence: 5}}, Options{})
	ctx := context.Background()

	first, err := router.Ask(ctx, "wed_1", "Question one?")
	require.NoError(t, err)
	second, err := router.Ask(ctx, "wed_1", "Question two?")
	require.NoError(t, err)
	_, err = router.SubmitStaffAnswer(ctx, second.QuestionID, "Answered.", PromoteOptions{})
	require.NoError(t, err)

	require.NoError(t, router.DeleteQuestion(ctx, first.QuestionID))
	require.NoError(t, router.DeleteQuestion(ctx, second.QuestionID))
	assert.Empty(t, store.questions)
}

func TestHTTPAnswerer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Question string   `json:"question"`
			Context  []string `json:"context"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"Chairs: included"}, body.Context)
		_, _ = w.Write([]byte(`{"answer":"Yes","confidence":82}`))
	}))
	defer server.Close()

	answer, err := NewHTTPAnswerer(server.URL, "", server.Client()).AnswerWithConfidence(context.Background(), "Chairs?", []string{"Chairs: included"})
	require.NoError(t, err)
	assert.Equal(t, Answer{Text: "Yes", Confidence: 82}, answer)
}

func TestHTTPAnswererMissingConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"Yes"}`))
	}))
	defer server.Close()

	_, err := NewHTTPAnswerer(server.URL, "", server.Client()).AnswerWithConfidence(context.Background(), "Chairs?", nil)
	assert.Error(t, err)
}

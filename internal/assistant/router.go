// Package assistant gates assistant answers by confidence and runs the staff
// review loop for uncertain ones.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/activity"
	"venueportal/api/internal/util"
)

var (
	// ErrAnswerUnavailable means the answer capability failed, timed out or
	// returned no usable confidence. The chat exchange fails visibly.
	ErrAnswerUnavailable = errors.New("assistant answer unavailable")
	// ErrQuestionClosed means the question was already answered.
	ErrQuestionClosed = errors.New("question already answered")
	ErrInvalidInput   = errors.New("invalid input")
)

// Answer is the capability's reply. Confidence is on a 0..100 scale.
type Answer struct {
	Text       string `json:"answer"`
	Confidence int    `json:"confidence"`
}

type Answerer interface {
	AnswerWithConfidence(ctx context.Context, question string, context []string) (Answer, error)
}

// KnowledgeSearcher supplies knowledge-base passages as answer context.
type KnowledgeSearcher interface {
	Passages(ctx context.Context, question string, limit int) []string
}

// KnowledgeSink receives committed KB entries, e.g. a search index or journal.
// Failures there never undo the commit.
type KnowledgeSink interface {
	EntryPromoted(ctx context.Context, entry KBEntry) error
}

type Notifier interface {
	QuestionQueued(ctx context.Context, q Question) error
}

type Question struct {
	ID              string     `json:"id"`
	WeddingID       string     `json:"weddingId"`
	Question        string     `json:"question"`
	TentativeAnswer string     `json:"tentativeAnswer"`
	Confidence      int        `json:"confidence"`
	CreatedAt       time.Time  `json:"createdAt"`
	StaffAnswer     string     `json:"staffAnswer,omitempty"`
	AnsweredAt      *time.Time `json:"answeredAt,omitempty"`
	AnsweredBy      string     `json:"answeredBy,omitempty"`
	PromotedToKB    bool       `json:"promotedToKb"`
	KBCategory      string     `json:"kbCategory,omitempty"`
	KBSubcategory   string     `json:"kbSubcategory,omitempty"`
}

func (q Question) Answered() bool {
	return q.AnsweredAt != nil
}

type KBEntry struct {
	ID               string    `json:"id"`
	Category         string    `json:"category"`
	Subcategory      string    `json:"subcategory,omitempty"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	SourceQuestionID string    `json:"sourceQuestionId,omitempty"`
	CreatedBy        string    `json:"createdBy,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// StaffAnswer is what MarkQuestionAnswered persists.
type StaffAnswer struct {
	QuestionID    string
	Answer        string
	AnsweredBy    string
	AnsweredAt    time.Time
	PromotedToKB  bool
	KBCategory    string
	KBSubcategory string
}

type Store interface {
	activity.Log
	InsertQuestion(ctx context.Context, q Question) error
	GetQuestion(ctx context.Context, id string) (Question, error)
	ListOpenQuestions(ctx context.Context, weddingID string) ([]Question, error)
	DeleteQuestion(ctx context.Context, id string) error
	// InTx runs fn in a single transaction; any error rolls everything back.
	InTx(ctx context.Context, fn func(tx TxStore) error) error
}

type TxStore interface {
	InsertKBEntry(ctx context.Context, entry KBEntry) error
	// MarkQuestionAnswered returns ErrQuestionClosed if the question is
	// already answered.
	MarkQuestionAnswered(ctx context.Context, answer StaffAnswer) error
}

type Options struct {
	Threshold    int
	ThresholdFor func(weddingID string) int
	Timeout      time.Duration
	ContextLimit int
}

type Router struct {
	store     Store
	answerer  Answerer
	knowledge KnowledgeSearcher
	notifier  Notifier
	sinks     []KnowledgeSink
	opts      Options
	now       func() time.Time
}

func NewRouter(store Store, answerer Answerer, opts Options) *Router {
	if opts.Threshold <= 0 {
		opts.Threshold = 75
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = 5
	}
	return &Router{store: store, answerer: answerer, opts: opts, now: time.Now}
}

func (r *Router) WithKnowledge(searcher KnowledgeSearcher) *Router {
	r.knowledge = searcher
	return r
}

func (r *Router) WithNotifier(notifier Notifier) *Router {
	r.notifier = notifier
	return r
}

func (r *Router) WithSinks(sinks ...KnowledgeSink) *Router {
	r.sinks = append(r.sinks, sinks...)
	return r
}

// NeedsReview reports whether an answer at confidence must be queued for staff.
// The threshold itself passes.
func NeedsReview(confidence, threshold int) bool {
	return confidence < threshold
}

func (r *Router) threshold(weddingID string) int {
	if r.opts.ThresholdFor != nil {
		if t := r.opts.ThresholdFor(weddingID); t > 0 {
			return t
		}
	}
	return r.opts.Threshold
}

// Reply is returned to the client. QuestionID is set when the exchange was
// queued for staff review.
type Reply struct {
	Answer     string `json:"answer"`
	Confidence int    `json:"confidence"`
	Queued     bool   `json:"queued"`
	QuestionID string `json:"questionId,omitempty"`
}

// Ask answers a client question. Low-confidence answers are still returned;
// they additionally create one UncertainQuestion.
func (r *Router) Ask(ctx context.Context, weddingID, question string) (Reply, error) {
	question = strings.TrimSpace(question)
	if weddingID == "" || question == "" {
		return Reply{}, fmt.Errorf("%w: wedding and question are required", ErrInvalidInput)
	}

	var passages []string
	if r.knowledge != nil {
		passages = r.knowledge.Passages(ctx, question, r.opts.ContextLimit)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	answer, err := r.answerer.AnswerWithConfidence(callCtx, question, passages)
	cancel()
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrAnswerUnavailable, err)
	}
	if answer.Confidence < 0 || answer.Confidence > 100 {
		return Reply{}, fmt.Errorf("%w: confidence %d outside 0..100", ErrAnswerUnavailable, answer.Confidence)
	}
	if strings.TrimSpace(answer.Text) == "" {
		return Reply{}, fmt.Errorf("%w: empty answer", ErrAnswerUnavailable)
	}

	reply := Reply{Answer: answer.Text, Confidence: answer.Confidence}
	if !NeedsReview(answer.Confidence, r.threshold(weddingID)) {
		return reply, nil
	}

	q := Question{
		ID:              util.NewID("uq"),
		WeddingID:       weddingID,
		Question:        question,
		TentativeAnswer: answer.Text,
		Confidence:      answer.Confidence,
		CreatedAt:       r.now().UTC(),
	}
	if err := r.store.InsertQuestion(ctx, q); err != nil {
		// The client still gets the answer; staff lose only the review item.
		log.Error().Err(err).Str("wedding_id", weddingID).Msg("assistant: queue uncertain question failed")
		return reply, nil
	}
	reply.Queued = true
	reply.QuestionID = q.ID

	r.logActivity(ctx, activity.Entry{
		Kind:      activity.KindQuestionQueued,
		Provider:  "chat",
		WeddingID: weddingID,
		Summary:   fmt.Sprintf("question %s queued for review at confidence %d", q.ID, q.Confidence),
	})
	if r.notifier != nil {
		if err := r.notifier.QuestionQueued(ctx, q); err != nil {
			log.Warn().Err(err).Str("question_id", q.ID).Msg("assistant: staff notification failed")
		}
	}
	return reply, nil
}

// PromoteOptions controls whether a staff answer becomes a knowledge-base entry.
type PromoteOptions struct {
	AddToKB     bool   `json:"addToKb"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Title       string `json:"title"`
	AnsweredBy  string `json:"-"`
}

// SubmitStaffAnswer stores a staff answer and, when requested, the derived KB
// entry in one transaction. If the KB write fails the question stays open.
func (r *Router) SubmitStaffAnswer(ctx context.Context, questionID, answer string, opts PromoteOptions) (Question, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Question{}, fmt.Errorf("%w: answer is required", ErrInvalidInput)
	}
	if opts.AddToKB && strings.TrimSpace(opts.Category) == "" {
		return Question{}, fmt.Errorf("%w: category is required to add to the knowledge base", ErrInvalidInput)
	}

	q, err := r.store.GetQuestion(ctx, questionID)
	if err != nil {
		return Question{}, err
	}
	if q.Answered() {
		return Question{}, ErrQuestionClosed
	}

	now := r.now().UTC()
	var entry *KBEntry
	if opts.AddToKB {
		title := strings.TrimSpace(opts.Title)
		if title == "" {
			title = q.Question
		}
		entry = &KBEntry{
			ID:               util.NewID("kb"),
			Category:         strings.TrimSpace(opts.Category),
			Subcategory:      strings.TrimSpace(opts.Subcategory),
			Title:            title,
			Content:          answer,
			SourceQuestionID: q.ID,
			CreatedBy:        opts.AnsweredBy,
			CreatedAt:        now,
		}
	}

	err = r.store.InTx(ctx, func(tx TxStore) error {
		if entry != nil {
			if err := tx.InsertKBEntry(ctx, *entry); err != nil {
				return fmt.Errorf("insert kb entry: %w", err)
			}
		}
		return tx.MarkQuestionAnswered(ctx, StaffAnswer{
			QuestionID:    q.ID,
			Answer:        answer,
			AnsweredBy:    opts.AnsweredBy,
			AnsweredAt:    now,
			PromotedToKB:  entry != nil,
			KBCategory:    opts.Category,
			KBSubcategory: opts.Subcategory,
		})
	})
	if err != nil {
		return Question{}, err
	}

	q.StaffAnswer = answer
	q.AnsweredAt = &now
	q.AnsweredBy = opts.AnsweredBy
	if entry != nil {
		q.PromotedToKB = true
		q.KBCategory = entry.Category
		q.KBSubcategory = entry.Subcategory
		for _, sink := range r.sinks {
			if err := sink.EntryPromoted(ctx, *entry); err != nil {
				log.Warn().Err(err).Str("kb_id", entry.ID).Msg("assistant: knowledge sink failed")
			}
		}
	}

	r.logActivity(ctx, activity.Entry{
		Kind:      activity.KindStaffAnswer,
		Provider:  "chat",
		WeddingID: q.WeddingID,
		Summary:   fmt.Sprintf("question %s answered by staff (promoted=%t)", q.ID, q.PromotedToKB),
	})
	return q, nil
}

// DeleteQuestion removes a question whether or not it was answered.
func (r *Router) DeleteQuestion(ctx context.Context, questionID string) error {
	if err := r.store.DeleteQuestion(ctx, questionID); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	return nil
}

func (r *Router) ListOpen(ctx context.Context, weddingID string) ([]Question, error) {
	questions, err := r.store.ListOpenQuestions(ctx, weddingID)
	if err != nil {
		return nil, fmt.Errorf("list open questions: %w", err)
	}
	return questions, nil
}

func (r *Router) logActivity(ctx context.Context, entry activity.Entry) {
	entry.ID = util.NewID("act")
	entry.CreatedAt = r.now().UTC()
	if err := r.store.AppendActivity(ctx, entry); err != nil {
		log.Warn().Err(err).Str("kind", string(entry.Kind)).Msg("assistant: append activity failed")
	}
}

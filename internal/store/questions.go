package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"venueportal/api/internal/assistant"
)

const questionColumns = `id, wedding_id, question, tentative_answer, confidence, created_at,
	staff_answer, answered_at, answered_by, promoted_to_kb, kb_category, kb_subcategory`

func (s *PostgresStore) InsertQuestion(ctx context.Context, q assistant.Question) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uncertain_questions (id, wedding_id, question, tentative_answer, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, q.ID, q.WeddingID, q.Question, q.TentativeAnswer, q.Confidence, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert uncertain question: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, questionID string) (assistant.Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM uncertain_questions WHERE id = $1`, questionID)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.Question{}, fmt.Errorf("question %s: %w", questionID, ErrNotFound)
	}
	return q, err
}

// ListOpenQuestions returns unanswered questions, oldest first. An empty
// weddingID lists every wedding's.
func (s *PostgresStore) ListOpenQuestions(ctx context.Context, weddingID string) ([]assistant.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+`
		FROM uncertain_questions
		WHERE answered_at IS NULL AND ($1 = '' OR wedding_id = $1)
		ORDER BY created_at
	`, weddingID)
	if err != nil {
		return nil, fmt.Errorf("list open questions: %w", err)
	}
	defer rows.Close()

	var out []assistant.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteQuestion(ctx context.Context, questionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM uncertain_questions WHERE id = $1`, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("question %s: %w", questionID, ErrNotFound)
	}
	return nil
}

func (t *txStore) InsertKBEntry(ctx context.Context, entry assistant.KBEntry) error {
	var source any
	if entry.SourceQuestionID != "" {
		source = entry.SourceQuestionID
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO knowledge_base (id, category, subcategory, title, content, source_question_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.Category, entry.Subcategory, entry.Title, entry.Content, source, entry.CreatedBy, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert kb entry: %w", err)
	}
	return nil
}

// MarkQuestionAnswered only touches open questions so two staff answers
// cannot both commit.
func (t *txStore) MarkQuestionAnswered(ctx context.Context, answer assistant.StaffAnswer) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE uncertain_questions
		SET staff_answer = $2, answered_at = $3, answered_by = $4,
			promoted_to_kb = $5, kb_category = $6, kb_subcategory = $7
		WHERE id = $1 AND answered_at IS NULL
	`, answer.QuestionID, answer.Answer, answer.AnsweredAt, answer.AnsweredBy,
		answer.PromotedToKB, answer.KBCategory, answer.KBSubcategory)
	if err != nil {
		return fmt.Errorf("mark question answered: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark question answered: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM uncertain_questions WHERE id = $1)`, answer.QuestionID).Scan(&exists); err != nil {
			return fmt.Errorf("check question: %w", err)
		}
		if !exists {
			return fmt.Errorf("question %s: %w", answer.QuestionID, ErrNotFound)
		}
		return assistant.ErrQuestionClosed
	}
	return nil
}

func scanQuestion(row rowScanner) (assistant.Question, error) {
	var (
		q          assistant.Question
		answeredAt sql.NullTime
	)
	err := row.Scan(&q.ID, &q.WeddingID, &q.Question, &q.TentativeAnswer, &q.Confidence, &q.CreatedAt,
		&q.StaffAnswer, &answeredAt, &q.AnsweredBy, &q.PromotedToKB, &q.KBCategory, &q.KBSubcategory)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.Question{}, err
	}
	if err != nil {
		return assistant.Question{}, fmt.Errorf("scan uncertain question: %w", err)
	}
	q.AnsweredAt = nullTime(answeredAt)
	return q, nil
}

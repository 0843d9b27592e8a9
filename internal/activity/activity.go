// Package activity defines the audit trail the pipeline appends to.
package activity

import (
	"context"
	"time"
)

type Kind string

const (
	KindNotesExtracted Kind = "notes_extracted"
	KindNoteStatus     Kind = "note_status"
	KindSyncRun        Kind = "sync_run"
	KindRecordFailed   Kind = "record_failed"
	KindQuestionQueued Kind = "question_queued"
	KindStaffAnswer    Kind = "staff_answer"
	KindEscalation     Kind = "escalation_handled"
)

// Entry is one audit row. WeddingID is empty for run-level entries.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Provider  string    `json:"provider,omitempty"`
	WeddingID string    `json:"weddingId,omitempty"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`
}

// Log is write-only from the pipeline's point of view.
type Log interface {
	AppendActivity(ctx context.Context, entry Entry) error
}

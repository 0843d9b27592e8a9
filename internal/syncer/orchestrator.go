// Package syncer pulls provider messages through normalization, attribution,
// storage and note extraction.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/comms"
	"venueportal/api/internal/identity"
	"venueportal/api/internal/notes"
	"venueportal/api/internal/util"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// Cursor marks how far a provider has been synced. Position is opaque to the
// orchestrator and only produced by the provider's Fetcher.
type Cursor struct {
	Provider  comms.Provider `json:"provider"`
	Position  string         `json:"position"`
	SyncedAt  *time.Time     `json:"syncedAt,omitempty"`
	Status    Status         `json:"status"`
	LastError string         `json:"lastError,omitempty"`
}

// Item is one raw provider payload. Items are returned in ascending Position.
type Item struct {
	ExternalID string          `json:"externalId"`
	Position   string          `json:"position"`
	Raw        json.RawMessage `json:"raw"`
}

type Fetcher interface {
	Provider() comms.Provider
	// Fetch returns items after since.Position; an empty position means
	// from the beginning.
	Fetch(ctx context.Context, since Cursor) ([]Item, error)
}

type Resolver interface {
	Resolve(rec comms.Record) (comms.Record, error)
}

type NoteExtractor interface {
	Extract(ctx context.Context, rec comms.Record) (notes.Result, error)
}

// Stored is the outcome of SaveRecord. Record carries the persisted ID and
// attribution, which may differ from the input on a repeat delivery.
type Stored struct {
	Record    comms.Record
	Inserted  bool
	Extracted bool
}

type RecordStore interface {
	// SaveRecord is idempotent on (provider, external_id).
	SaveRecord(ctx context.Context, rec comms.Record) (Stored, error)
	MarkExtracted(ctx context.Context, recordID string, at time.Time) error
}

// Observer sees every newly stored attributed record.
type Observer interface {
	Observe(ctx context.Context, rec comms.Record)
}

type RecordError struct {
	RecordID string `json:"recordId"`
	Error    string `json:"error"`
}

type Report struct {
	Provider       comms.Provider `json:"provider"`
	Force          bool           `json:"force"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     time.Time      `json:"finishedAt"`
	Fetched        int            `json:"fetched"`
	Stored         int            `json:"stored"`
	Unattributable int            `json:"unattributable"`
	NotesCreated   int            `json:"notesCreated"`
	NotesConfirmed int            `json:"notesConfirmed"`
	Errors         []RecordError  `json:"errors"`
	Cursor         Cursor         `json:"cursor"`
	Aborted        bool           `json:"aborted"`
	Error          string         `json:"error,omitempty"`
}

type Options struct {
	// Force refetches from the beginning and re-extracts stored records.
	Force bool
}

type Orchestrator struct {
	records   RecordStore
	resolver  Resolver
	extractor NoteExtractor
	observer  Observer
	now       func() time.Time
}

func NewOrchestrator(records RecordStore, resolver Resolver, extractor NoteExtractor) *Orchestrator {
	return &Orchestrator{records: records, resolver: resolver, extractor: extractor, now: time.Now}
}

func (o *Orchestrator) WithObserver(observer Observer) *Orchestrator {
	o.observer = observer
	return o
}

// Run processes one batch. The returned cursor covers every fully processed
// item; on a fatal error the input cursor is returned unchanged.
func (o *Orchestrator) Run(ctx context.Context, fetcher Fetcher, cursor Cursor, opts Options) (Report, Cursor, error) {
	provider := fetcher.Provider()
	report := Report{
		Provider:  provider,
		Force:     opts.Force,
		StartedAt: o.now().UTC(),
		Errors:    []RecordError{},
		Cursor:    cursor,
	}

	since := cursor
	if opts.Force {
		since.Position = ""
	}
	items, err := fetcher.Fetch(ctx, since)
	if err != nil {
		report.FinishedAt = o.now().UTC()
		return report, cursor, fmt.Errorf("fetch %s: %w", provider, err)
	}
	report.Fetched = len(items)

	next := cursor
	for _, item := range items {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}
		done, err := o.process(ctx, provider, item, opts, &report)
		if err != nil {
			report.FinishedAt = o.now().UTC()
			return report, cursor, err
		}
		if !done {
			report.Aborted = true
			break
		}
		next.Position = item.Position
	}

	next.Provider = provider
	report.Cursor = next
	report.FinishedAt = o.now().UTC()
	return report, next, nil
}

// process handles one item. It reports false when cancellation interrupted the
// item before it was fully handled.
func (o *Orchestrator) process(ctx context.Context, provider comms.Provider, item Item, opts Options, report *Report) (bool, error) {
	rec, err := comms.NormalizeRaw(provider, item.Raw)
	if err != nil {
		report.addError(itemRef(item), err)
		return true, nil
	}

	rec, err = o.resolver.Resolve(rec)
	switch {
	case errors.Is(err, identity.ErrUnattributable):
		report.Unattributable++
	case errors.Is(err, identity.ErrAmbiguousIdentity):
		report.addError(rec.ExternalID, err)
		return true, nil
	case err != nil:
		return false, fmt.Errorf("resolve %s %s: %w", provider, rec.ExternalID, err)
	}

	rec.ID = util.NewID("msg")
	stored, err := o.records.SaveRecord(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("save %s %s: %w", provider, rec.ExternalID, err)
	}
	if stored.Inserted {
		report.Stored++
		if o.observer != nil && stored.Record.Resolved() {
			o.observer.Observe(ctx, stored.Record)
		}
	}

	if !stored.Record.Resolved() {
		return true, nil
	}
	if !stored.Inserted && stored.Extracted && !opts.Force {
		return true, nil
	}

	result, err := o.extractor.Extract(ctx, stored.Record)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false, nil
	case errors.Is(err, notes.ErrExtractionFailed):
		report.addError(rec.ExternalID, err)
		return true, nil
	default:
		return false, fmt.Errorf("extract %s %s: %w", provider, rec.ExternalID, err)
	}
	report.NotesCreated += len(result.Created)
	report.NotesConfirmed += len(result.Confirmed)

	if err := o.records.MarkExtracted(ctx, stored.Record.ID, o.now().UTC()); err != nil {
		log.Warn().Err(err).Str("record_id", stored.Record.ID).Msg("sync: mark extracted failed")
	}
	return true, nil
}

func (r *Report) addError(recordID string, err error) {
	r.Errors = append(r.Errors, RecordError{RecordID: recordID, Error: err.Error()})
}

func itemRef(item Item) string {
	if item.ExternalID != "" {
		return item.ExternalID
	}
	return item.Position
}

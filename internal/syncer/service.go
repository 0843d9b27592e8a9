package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"venueportal/api/internal/activity"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/identity"
	"venueportal/api/internal/lock"
	"venueportal/api/internal/util"
)

var (
	// ErrSyncInProgress means another run holds the provider's lock.
	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrUnknownProvider = errors.New("provider not configured")
)

type Store interface {
	activity.Log
	RecordStore
	// LoadCursor returns a zero cursor for a provider that never synced.
	LoadCursor(ctx context.Context, provider comms.Provider) (Cursor, error)
	SaveCursor(ctx context.Context, cursor Cursor) error
	ListCursors(ctx context.Context) ([]Cursor, error)
	ListProfiles(ctx context.Context) ([]identity.Profile, error)
}

type Service struct {
	store     Store
	extractor NoteExtractor
	locker    lock.Locker
	observer  Observer
	fetchers  map[comms.Provider]Fetcher
	now       func() time.Time
}

func NewService(store Store, extractor NoteExtractor, locker lock.Locker, fetchers ...Fetcher) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	byProvider := make(map[comms.Provider]Fetcher, len(fetchers))
	for _, f := range fetchers {
		byProvider[f.Provider()] = f
	}
	return &Service{
		store:     store,
		extractor: extractor,
		locker:    locker,
		fetchers:  byProvider,
		now:       time.Now,
	}
}

func (s *Service) WithObserver(observer Observer) *Service {
	s.observer = observer
	return s
}

// Providers lists configured providers in stable order.
func (s *Service) Providers() []comms.Provider {
	out := make([]comms.Provider, 0, len(s.fetchers))
	for _, p := range comms.Providers() {
		if _, ok := s.fetchers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// RunSync runs one provider under its lock and persists the resulting cursor.
func (s *Service) RunSync(ctx context.Context, provider comms.Provider, force bool) (Report, error) {
	fetcher, ok := s.fetchers[provider]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	release, err := s.locker.Acquire(ctx, string(provider))
	if errors.Is(err, lock.ErrHeld) {
		return Report{}, fmt.Errorf("%w: %s", ErrSyncInProgress, provider)
	}
	if err != nil {
		return Report{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer release()

	cursor, err := s.store.LoadCursor(ctx, provider)
	if err != nil {
		return Report{}, fmt.Errorf("load cursor: %w", err)
	}
	cursor.Provider = provider
	syncing := cursor
	syncing.Status = StatusSyncing
	if err := s.store.SaveCursor(ctx, syncing); err != nil {
		return Report{}, fmt.Errorf("save cursor: %w", err)
	}

	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		s.fail(cursor, err)
		return Report{}, fmt.Errorf("list profiles: %w", err)
	}

	orchestrator := NewOrchestrator(s.store, identity.NewRegistry(profiles), s.extractor)
	orchestrator.now = s.now
	if s.observer != nil {
		orchestrator.WithObserver(s.observer)
	}

	report, next, runErr := orchestrator.Run(ctx, fetcher, cursor, Options{Force: force})
	if runErr != nil {
		report.Error = runErr.Error()
		s.fail(cursor, runErr)
		s.logRun(report)
		return report, runErr
	}

	syncedAt := s.now().UTC()
	next.SyncedAt = &syncedAt
	next.Status = StatusIdle
	next.LastError = ""
	// the run itself is done; persist even if the caller went away
	if err := s.store.SaveCursor(context.WithoutCancel(ctx), next); err != nil {
		return report, fmt.Errorf("save cursor: %w", err)
	}
	report.Cursor = next
	s.logRun(report)
	return report, nil
}

// RunAll syncs every configured provider concurrently. Per-provider failures
// are reported in Report.Error.
func (s *Service) RunAll(ctx context.Context, force bool) []Report {
	providers := s.Providers()
	reports := make([]Report, len(providers))

	var g errgroup.Group
	for i, provider := range providers {
		g.Go(func() error {
			report, err := s.RunSync(ctx, provider, force)
			if err != nil {
				report.Provider = provider
				report.Error = err.Error()
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Status returns the cursor of every configured provider.
func (s *Service) Status(ctx context.Context) ([]Cursor, error) {
	cursors, err := s.store.ListCursors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	seen := make(map[comms.Provider]bool, len(cursors))
	out := make([]Cursor, 0, len(s.fetchers))
	for _, c := range cursors {
		if _, ok := s.fetchers[c.Provider]; ok {
			seen[c.Provider] = true
			out = append(out, c)
		}
	}
	for _, p := range s.Providers() {
		if !seen[p] {
			out = append(out, Cursor{Provider: p, Status: StatusIdle})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *Service) fail(cursor Cursor, cause error) {
	cursor.Status = StatusError
	cursor.LastError = cause.Error()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveCursor(ctx, cursor); err != nil {
		log.Error().Err(err).Str("provider", string(cursor.Provider)).Msg("sync: save failed cursor")
	}
}

func (s *Service) logRun(report Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary := fmt.Sprintf("fetched=%d stored=%d unattributable=%d notes_created=%d notes_confirmed=%d errors=%d force=%t aborted=%t",
		report.Fetched, report.Stored, report.Unattributable, report.NotesCreated, report.NotesConfirmed, len(report.Errors), report.Force, report.Aborted)
	if report.Error != "" {
		summary += " failed: " + report.Error
	}
	entries := []activity.Entry{{
		ID:        util.NewID("act"),
		Kind:      activity.KindSyncRun,
		Provider:  string(report.Provider),
		Summary:   summary,
		CreatedAt: s.now().UTC(),
	}}
	for _, recErr := range report.Errors {
		entries = append(entries, activity.Entry{
			ID:        util.NewID("act"),
			Kind:      activity.KindRecordFailed,
			Provider:  string(report.Provider),
			Summary:   recErr.RecordID + ": " + recErr.Error,
			CreatedAt: s.now().UTC(),
		})
	}
	for _, entry := range entries {
		if err := s.store.AppendActivity(ctx, entry); err != nil {
			log.Warn().Err(err).Str("provider", entry.Provider).Msg("sync: append activity failed")
			return
		}
	}

	event := log.Info()
	if report.Error != "" {
		event = log.Warn()
	}
	event.Str("provider", string(report.Provider)).
		Int("fetched", report.Fetched).
		Int("stored", report.Stored).
		Int("notes_created", report.NotesCreated).
		Int("errors", len(report.Errors)).
		Bool("force", report.Force).
		Bool("aborted", report.Aborted).
		Msg("sync run finished")
}

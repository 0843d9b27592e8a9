package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/assistant"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/config"
	"venueportal/api/internal/email"
	"venueportal/api/internal/escalation"
	"venueportal/api/internal/export"
	"venueportal/api/internal/kbjournal"
	"venueportal/api/internal/lock"
	"venueportal/api/internal/notes"
	"venueportal/api/internal/provider"
	"venueportal/api/internal/search"
	"venueportal/api/internal/session"
	"venueportal/api/internal/store"
	"venueportal/api/internal/syncer"
)

// Components is the wired pipeline shared by the API server and the CLI.
type Components struct {
	Service     *Service
	Store       *store.PostgresStore
	Sync        *syncer.Service
	Escalations *escalation.Service
	Notes       *notes.Service
	Assistant   *assistant.Router
	Search      *search.Service
	Journal     *kbjournal.Journal
	Exporter    *export.Service

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Bootstrap opens the database and builds every pipeline component from cfg
// and the pipeline settings. Optional backends (Redis, Meilisearch, Gmail,
// the contract bucket, SMTP) degrade to local fallbacks or stay disabled.
func Bootstrap(ctx context.Context, cfg config.Config, pipeline config.Pipeline) (*Components, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c := &Components{closers: []func(){func() { _ = db.Close() }}}
	if err := c.wire(ctx, db, cfg, pipeline); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) wire(ctx context.Context, db *sql.DB, cfg config.Config, pipeline config.Pipeline) error {
	pg := store.NewPostgresStore(db)
	c.Store = pg

	var locker lock.Locker = lock.NewLocalLocker()
	var revocations session.Revocations = session.NewMemoryRevocations()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLocker, err := lock.NewRedisLocker(cfg.RedisURL, cfg.SyncLockTTL)
		if err != nil {
			log.Warn().Err(err).Msg("bootstrap: redis unavailable, using in-process sync locks")
		} else {
			locker = lock.NewLayered(redisLocker)
			c.closers = append(c.closers, func() { _ = redisLocker.Close() })
		}
		redisRevocations, err := session.NewRedisRevocations(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("bootstrap: redis unavailable, token revocations are per-process")
		} else {
			revocations = redisRevocations
			c.closers = append(c.closers, func() { _ = redisRevocations.Close() })
		}
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		c.closers = append(c.closers, meili.Close)
	}
	c.Search = search.NewService(meili, search.NewPgFTS(pg))

	c.Journal = kbjournal.New(cfg.JournalDir)
	if err := c.Journal.Ensure(); err != nil {
		return fmt.Errorf("init kb journal: %w", err)
	}

	mailer := email.NewService(email.Config{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		FromName:   cfg.SMTPFromName,
		StaffInbox: cfg.StaffInbox,
		PortalURL:  cfg.PortalURL,
	})
	if !mailer.IsConfigured() {
		log.Info().Msg("bootstrap: SMTP not configured, staff notices disabled")
	}

	client := &http.Client{Timeout: 60 * time.Second}

	var extractor notes.Extractor = notes.NewRuleExtractor()
	if strings.TrimSpace(cfg.ExtractorURL) != "" {
		extractor = notes.NewHTTPExtractor(cfg.ExtractorURL, cfg.CapabilityKey, client)
	}
	taxonomy := make([]notes.Category, 0, len(pipeline.Taxonomy))
	for _, name := range pipeline.Taxonomy {
		taxonomy = append(taxonomy, notes.Category(name))
	}
	c.Notes = notes.NewService(pg, extractor, notes.Options{
		Taxonomy:         taxonomy,
		MinContentLength: pipeline.MinNoteLength,
		Timeout:          pipeline.ExtractTimeout,
	})

	c.Escalations = escalation.NewService(pg, escalation.Options{
		Window:    pipeline.EscalationWindow,
		WindowFor: pipeline.WindowFor,
		Keywords:  pipeline.DistressKeywords,
	}).WithNotifier(mailer)

	c.Assistant = assistant.NewRouter(pg, assistant.NewHTTPAnswerer(cfg.AnswererURL, cfg.CapabilityKey, client), assistant.Options{
		Threshold:    pipeline.ConfidenceThreshold,
		ThresholdFor: pipeline.ThresholdFor,
		Timeout:      pipeline.AnswerTimeout,
	}).WithKnowledge(c.Search).WithNotifier(mailer).WithSinks(c.Search, c.Journal)

	fetchers := c.fetchers(ctx, cfg, pipeline, pg)
	c.Sync = syncer.NewService(pg, c.Notes, locker, fetchers...).WithObserver(c.Escalations)

	c.Exporter = export.NewService(exportSource{store: pg, notes: c.Notes, escalations: c.Escalations, questions: c.Assistant}, cfg.ExportTimeout)

	c.Service = New(cfg, Deps{
		Store:       pg,
		Sync:        c.Sync,
		Escalations: c.Escalations,
		Notes:       c.Notes,
		Assistant:   c.Assistant,
		Knowledge:   c.Search,
		Exporter:    c.Exporter,
		Revocations: revocations,
	})
	return nil
}

func (c *Components) fetchers(ctx context.Context, cfg config.Config, pipeline config.Pipeline, pg *store.PostgresStore) []syncer.Fetcher {
	var fetchers []syncer.Fetcher
	for _, p := range comms.Providers() {
		if !pipeline.ProviderEnabled(string(p)) {
			continue
		}
		switch p {
		case comms.ProviderEmail:
			if !cfg.GmailEnabled() {
				log.Info().Msg("bootstrap: gmail not configured, email sync disabled")
				continue
			}
			api, err := provider.NewGmailAPI(ctx, cfg.GmailClientID, cfg.GmailClientSecret, cfg.GmailTokenFile)
			if err != nil {
				log.Warn().Err(err).Msg("bootstrap: gmail client failed, email sync disabled")
				continue
			}
			fetchers = append(fetchers, provider.NewGmailFetcher(api))
		case comms.ProviderContract:
			if !cfg.ContractsEnabled() {
				log.Info().Msg("bootstrap: contract bucket not configured, contract sync disabled")
				continue
			}
			bucket, err := provider.NewMinioBucket(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
			if err != nil {
				log.Warn().Err(err).Msg("bootstrap: contract bucket failed, contract sync disabled")
				continue
			}
			fetchers = append(fetchers, provider.NewContractsFetcher(bucket, cfg.S3Prefix))
		default:
			fetchers = append(fetchers, provider.NewInboxFetcher(p, pg))
		}
	}
	return fetchers
}

type exportStore interface {
	GetWedding(context.Context, string) (store.Wedding, error)
	ListRecords(context.Context, string, int) ([]comms.Record, error)
}

// exportSource gathers a planning file from the pipeline services.
type exportSource struct {
	store       exportStore
	notes       noteService
	escalations escalationService
	questions   assistantRouter
}

func (s exportSource) Wedding(ctx context.Context, id string) (export.Wedding, error) {
	wedding, err := s.store.GetWedding(ctx, id)
	if err != nil {
		return export.Wedding{}, err
	}
	return export.Wedding{ID: wedding.ID, CoupleName: wedding.CoupleName, EventDate: wedding.EventDate}, nil
}

func (s exportSource) Notes(ctx context.Context, weddingID string) ([]notes.Note, error) {
	return s.notes.List(ctx, weddingID, "")
}

func (s exportSource) Escalation(ctx context.Context, weddingID string) (escalation.State, error) {
	return s.escalations.State(ctx, weddingID)
}

func (s exportSource) OpenQuestions(ctx context.Context, weddingID string) ([]assistant.Question, error) {
	return s.questions.ListOpen(ctx, weddingID)
}

func (s exportSource) RecentRecords(ctx context.Context, weddingID string, limit int) ([]comms.Record, error) {
	return s.store.ListRecords(ctx, weddingID, limit)
}

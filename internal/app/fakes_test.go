package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"venueportal/api/internal/activity"
	"venueportal/api/internal/assistant"
	"venueportal/api/internal/auth"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/config"
	"venueportal/api/internal/escalation"
	"venueportal/api/internal/export"
	"venueportal/api/internal/identity"
	"venueportal/api/internal/notes"
	"venueportal/api/internal/search"
	"venueportal/api/internal/session"
	"venueportal/api/internal/store"
	"venueportal/api/internal/syncer"
)

const testSecret = "test-secret"

type inboxDeposit struct {
	provider   comms.Provider
	externalID string
	payload    []byte
}

type fakeStore struct {
	mu       sync.Mutex
	pingErr  error
	weddings map[string]store.Wedding
	profiles []identity.Profile
	inbox    []inboxDeposit
}

func newFakeStore() *fakeStore {
	return &fakeStore{weddings: map[string]store.Wedding{
		"wed-1": {ID: "wed-1", CoupleName: "Ana & Luis"},
		"wed-2": {ID: "wed-2", CoupleName: "Sam & Kai"},
	}}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) CreateWedding(_ context.Context, coupleName string, eventDate *time.Time) (store.Wedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := store.Wedding{ID: "wed-new", CoupleName: coupleName, EventDate: eventDate}
	f.weddings[w.ID] = w
	return w, nil
}

func (f *fakeStore) GetWedding(_ context.Context, id string) (store.Wedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.weddings[id]
	if !ok {
		return store.Wedding{}, store.ErrNotFound
	}
	return w, nil
}

func (f *fakeStore) AddProfile(_ context.Context, p identity.Profile) (identity.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = "prof-new"
	f.profiles = append(f.profiles, p)
	return p, nil
}

func (f *fakeStore) ListWeddingProfiles(_ context.Context, weddingID string) ([]identity.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []identity.Profile
	for _, p := range f.profiles {
		if p.WeddingID == weddingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActivity(context.Context, string, int) ([]activity.Entry, error) {
	return nil, nil
}

func (f *fakeStore) InsertInbox(_ context.Context, provider comms.Provider, externalID string, payload []byte) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.inbox {
		if d.provider == provider && d.externalID == externalID {
			return int64(i + 1), false, nil
		}
	}
	f.inbox = append(f.inbox, inboxDeposit{provider: provider, externalID: externalID, payload: payload})
	return int64(len(f.inbox)), true, nil
}

type fakeSync struct {
	runFn func(ctx context.Context, provider comms.Provider, force bool) (syncer.Report, error)
}

func (f *fakeSync) RunSync(ctx context.Context, provider comms.Provider, force bool) (syncer.Report, error) {
	if f.runFn != nil {
		return f.runFn(ctx, provider, force)
	}
	return syncer.Report{Provider: provider, Force: force}, nil
}

func (f *fakeSync) RunAll(ctx context.Context, force bool) []syncer.Report {
	var reports []syncer.Report
	for _, p := range comms.Providers() {
		report, _ := f.RunSync(ctx, p, force)
		reports = append(reports, report)
	}
	return reports
}

func (f *fakeSync) Status(context.Context) ([]syncer.Cursor, error) {
	return []syncer.Cursor{{Provider: comms.ProviderChat, Status: syncer.StatusIdle}}, nil
}

type fakeEscalations struct {
	handled map[string]bool
}

func (f *fakeEscalations) State(_ context.Context, weddingID string) (escalation.State, error) {
	if weddingID == "missing" {
		return escalation.State{}, store.ErrNotFound
	}
	if f.handled[weddingID] {
		return escalation.State{WeddingID: weddingID, Messages: []escalation.Message{}}, nil
	}
	return escalation.State{
		WeddingID:     weddingID,
		HasEscalation: true,
		Count:         1,
		Messages:      []escalation.Message{{RecordID: "rec-1", Provider: comms.ProviderSMS, Keyword: "urgent", Body: "this is urgent"}},
	}, nil
}

func (f *fakeEscalations) StateAll(ctx context.Context) ([]escalation.State, error) {
	state, _ := f.State(ctx, "wed-1")
	return []escalation.State{state}, nil
}

func (f *fakeEscalations) MarkHandled(ctx context.Context, weddingID string) (escalation.State, error) {
	if f.handled == nil {
		f.handled = map[string]bool{}
	}
	f.handled[weddingID] = true
	return f.State(ctx, weddingID)
}

type fakeNotes struct {
	updateFn func(ctx context.Context, id string, status notes.Status) (notes.Note, error)
}

func (f *fakeNotes) List(_ context.Context, weddingID string, status notes.Status) ([]notes.Note, error) {
	return []notes.Note{{ID: "note-1", WeddingID: weddingID, Category: "allergy", Content: "Peanut allergy", Status: notes.StatusPending}}, nil
}

func (f *fakeNotes) UpdateStatus(ctx context.Context, id string, status notes.Status) (notes.Note, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, status)
	}
	return notes.Note{ID: id, Status: status}, nil
}

type fakeAssistant struct {
	askFn    func(ctx context.Context, weddingID, question string) (assistant.Reply, error)
	answerFn func(ctx context.Context, id, answer string, opts assistant.PromoteOptions) (assistant.Question, error)
	deleted  []string
}

func (f *fakeAssistant) Ask(ctx context.Context, weddingID, question string) (assistant.Reply, error) {
	if f.askFn != nil {
		return f.askFn(ctx, weddingID, question)
	}
	return assistant.Reply{Answer: "Ceremony starts at 4pm.", Confidence: 90}, nil
}

func (f *fakeAssistant) SubmitStaffAnswer(ctx context.Context, id, answer string, opts assistant.PromoteOptions) (assistant.Question, error) {
	if f.answerFn != nil {
		return f.answerFn(ctx, id, answer, opts)
	}
	return assistant.Question{ID: id, StaffAnswer: answer, AnsweredBy: opts.AnsweredBy}, nil
}

func (f *fakeAssistant) DeleteQuestion(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAssistant) ListOpen(context.Context, string) ([]assistant.Question, error) {
	return nil, nil
}

type fakeKnowledge struct {
	last search.Query
}

func (f *fakeKnowledge) Search(_ context.Context, q search.Query) search.Response {
	f.last = q
	return search.Response{Results: []search.Result{}, Query: q.Text, Engine: "pgfts"}
}

type fakeExporter struct {
	err error
}

func (f *fakeExporter) Export(_ context.Context, req export.Request) (*export.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &export.Result{Data: []byte("<html>" + req.WeddingID + "</html>"), Filename: "ana-luis.html", MimeType: "text/html; charset=utf-8"}, nil
}

type testHarness struct {
	server      *HTTPServer
	service     *Service
	store       *fakeStore
	sync        *fakeSync
	escalations *fakeEscalations
	notes       *fakeNotes
	assistant   *fakeAssistant
	knowledge   *fakeKnowledge
	exporter    *fakeExporter
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		store:       newFakeStore(),
		sync:        &fakeSync{},
		escalations: &fakeEscalations{},
		notes:       &fakeNotes{},
		assistant:   &fakeAssistant{},
		knowledge:   &fakeKnowledge{},
		exporter:    &fakeExporter{},
	}
	cfg := config.Config{TokenSecret: testSecret, WebhookToken: "hook-token", CORSOrigin: "*"}
	h.service = New(cfg, Deps{
		Store:       h.store,
		Sync:        h.sync,
		Escalations: h.escalations,
		Notes:       h.notes,
		Assistant:   h.assistant,
		Knowledge:   h.knowledge,
		Exporter:    h.exporter,
		Revocations: session.NewMemoryRevocations(),
	})
	h.server = NewHTTPServer(h.service, cfg.CORSOrigin)
	return h
}

func issueTestToken(t *testing.T, sub, role, weddingID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(sub, "Test "+role, role, weddingID, time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

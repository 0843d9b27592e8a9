package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/activity"
	"venueportal/api/internal/assistant"
	"venueportal/api/internal/auth"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/config"
	"venueportal/api/internal/escalation"
	"venueportal/api/internal/export"
	"venueportal/api/internal/identity"
	"venueportal/api/internal/notes"
	"venueportal/api/internal/rbac"
	"venueportal/api/internal/search"
	"venueportal/api/internal/session"
	"venueportal/api/internal/store"
	"venueportal/api/internal/syncer"
	"venueportal/api/internal/util"
)

type Session struct {
	Token    string
	UserID   string
	UserName string
	Role     rbac.Role
	// WeddingID is set for client sessions.
	WeddingID string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(context.Context) error
	CreateWedding(context.Context, string, *time.Time) (store.Wedding, error)
	GetWedding(context.Context, string) (store.Wedding, error)
	AddProfile(context.Context, identity.Profile) (identity.Profile, error)
	ListWeddingProfiles(context.Context, string) ([]identity.Profile, error)
	ListActivity(context.Context, string, int) ([]activity.Entry, error)
	InsertInbox(context.Context, comms.Provider, string, []byte) (int64, bool, error)
}

type syncRunner interface {
	RunSync(context.Context, comms.Provider, bool) (syncer.Report, error)
	RunAll(context.Context, bool) []syncer.Report
	Status(context.Context) ([]syncer.Cursor, error)
}

type escalationService interface {
	State(context.Context, string) (escalation.State, error)
	StateAll(context.Context) ([]escalation.State, error)
	MarkHandled(context.Context, string) (escalation.State, error)
}

type noteService interface {
	List(context.Context, string, notes.Status) ([]notes.Note, error)
	UpdateStatus(context.Context, string, notes.Status) (notes.Note, error)
}

type assistantRouter interface {
	Ask(context.Context, string, string) (assistant.Reply, error)
	SubmitStaffAnswer(context.Context, string, string, assistant.PromoteOptions) (assistant.Question, error)
	DeleteQuestion(context.Context, string) error
	ListOpen(context.Context, string) ([]assistant.Question, error)
}

type knowledgeSearch interface {
	Search(context.Context, search.Query) search.Response
}

type planningExporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Deps are the pipeline components the service fronts.
type Deps struct {
	Store       dataStore
	Sync        syncRunner
	Escalations escalationService
	Notes       noteService
	Assistant   assistantRouter
	Knowledge   knowledgeSearch
	Exporter    planningExporter
	Revocations session.Revocations
}

type Service struct {
	cfg config.Config
	Deps
	now func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Revocations == nil {
		deps.Revocations = session.NewMemoryRevocations()
	}
	return &Service{cfg: cfg, Deps: deps, now: time.Now}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.Store.Ping(ctx)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) CanAccessWedding(sess Session, weddingID string) bool {
	return rbac.CanAccessWedding(sess.Role, sess.WeddingID, weddingID)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.Revocations.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      rbac.Normalize(claims.Role),
		WeddingID: claims.WeddingID,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.JTI == "" {
		return nil
	}
	return s.Revocations.Revoke(ctx, sess.JTI, sess.ExpiresAt)
}

func (s *Service) WebhookAuthorized(token string) bool {
	return auth.SecretsEqual(s.cfg.WebhookToken, token)
}

// webhookProviders deliver by push. Email and contracts are pulled.
var webhookProviders = map[comms.Provider]bool{
	comms.ProviderChat: true,
	comms.ProviderSMS:  true,
	comms.ProviderCall: true,
	comms.ProviderZoom: true,
}

type DepositResult struct {
	Seq        int64  `json:"seq"`
	ExternalID string `json:"externalId"`
	Duplicate  bool   `json:"duplicate"`
}

// DepositWebhook validates a pushed payload and queues it for the next sync.
// Malformed payloads are refused so the sender can retry with a fix.
func (s *Service) DepositWebhook(ctx context.Context, provider string, raw []byte) (DepositResult, error) {
	p := comms.Provider(strings.ToLower(strings.TrimSpace(provider)))
	if !webhookProviders[p] {
		return DepositResult{}, validationError(fmt.Sprintf("provider %q does not accept webhooks", provider))
	}
	rec, err := comms.NormalizeRaw(p, raw)
	if err != nil {
		return DepositResult{}, err
	}
	seq, inserted, err := s.Store.InsertInbox(ctx, p, rec.ExternalID, raw)
	if err != nil {
		return DepositResult{}, fmt.Errorf("deposit webhook: %w", err)
	}
	return DepositResult{Seq: seq, ExternalID: rec.ExternalID, Duplicate: !inserted}, nil
}

func parseProvider(provider string) (comms.Provider, error) {
	p := comms.Provider(strings.ToLower(strings.TrimSpace(provider)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %s", syncer.ErrUnknownProvider, provider)
	}
	return p, nil
}

func (s *Service) RunSync(ctx context.Context, provider string, force bool) (syncer.Report, error) {
	p, err := parseProvider(provider)
	if err != nil {
		return syncer.Report{}, err
	}
	return s.Sync.RunSync(ctx, p, force)
}

func (s *Service) RunAll(ctx context.Context, force bool) []syncer.Report {
	return s.Sync.RunAll(ctx, force)
}

func (s *Service) SyncStatus(ctx context.Context) ([]syncer.Cursor, error) {
	return s.Sync.Status(ctx)
}

func (s *Service) EscalationStates(ctx context.Context) ([]escalation.State, error) {
	return s.Escalations.StateAll(ctx)
}

func (s *Service) EscalationState(ctx context.Context, weddingID string) (escalation.State, error) {
	return s.Escalations.State(ctx, weddingID)
}

func (s *Service) MarkEscalationHandled(ctx context.Context, weddingID string) (escalation.State, error) {
	return s.Escalations.MarkHandled(ctx, weddingID)
}

func parseStatus(raw string, allowEmpty bool) (notes.Status, error) {
	status := notes.Status(strings.ToLower(strings.TrimSpace(raw)))
	if status == "" && allowEmpty {
		return "", nil
	}
	if !status.Valid() {
		return "", validationError("status must be one of pending, added, confirmed, dismissed")
	}
	return status, nil
}

func (s *Service) ListNotes(ctx context.Context, weddingID, status string) ([]notes.Note, error) {
	parsed, err := parseStatus(status, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.GetWedding(ctx, weddingID); err != nil {
		return nil, err
	}
	items, err := s.Notes.List(ctx, weddingID, parsed)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []notes.Note{}
	}
	return items, nil
}

func (s *Service) UpdateNoteStatus(ctx context.Context, noteID, status string) (notes.Note, error) {
	parsed, err := parseStatus(status, false)
	if err != nil {
		return notes.Note{}, err
	}
	return s.Notes.UpdateStatus(ctx, noteID, parsed)
}

// Ask answers a client question and deposits the exchange in the chat inbox so
// the chat sync extracts planning notes from it.
func (s *Service) Ask(ctx context.Context, sess Session, weddingID, question, clientEmail string) (assistant.Reply, error) {
	if _, err := s.Store.GetWedding(ctx, weddingID); err != nil {
		return assistant.Reply{}, err
	}
	reply, err := s.Assistant.Ask(ctx, weddingID, question)
	if err != nil {
		return assistant.Reply{}, err
	}

	email := strings.TrimSpace(clientEmail)
	name := ""
	if sess.Role == rbac.RoleClient {
		email = sess.UserID
		name = sess.UserName
	}
	if email != "" {
		s.depositChatExchange(ctx, email, name, question, reply)
	}
	return reply, nil
}

func (s *Service) depositChatExchange(ctx context.Context, email, name, question string, reply assistant.Reply) {
	sessionID := util.NewID("ask")
	now := s.now().UTC()
	messages := []comms.ChatPayload{
		{SessionID: sessionID, MessageID: util.NewID("chat"), ClientEmail: email, ClientName: name, Role: "client", Text: question, SentAt: now},
		{SessionID: sessionID, MessageID: util.NewID("chat"), ClientEmail: email, ClientName: name, Role: "assistant", Text: reply.Answer, SentAt: now.Add(time.Millisecond)},
	}
	for _, msg := range messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			log.Warn().Err(err).Msg("app: marshal chat payload failed")
			continue
		}
		if _, _, err := s.Store.InsertInbox(ctx, comms.ProviderChat, msg.MessageID, raw); err != nil {
			log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("app: deposit chat message failed")
		}
	}
}

func (s *Service) ListQuestions(ctx context.Context, weddingID string) ([]assistant.Question, error) {
	questions, err := s.Assistant.ListOpen(ctx, weddingID)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []assistant.Question{}
	}
	return questions, nil
}

type AnswerInput struct {
	Answer string `json:"answer"`
	assistant.PromoteOptions
}

func (s *Service) AnswerQuestion(ctx context.Context, sess Session, questionID string, input AnswerInput) (assistant.Question, error) {
	opts := input.PromoteOptions
	opts.AnsweredBy = sess.UserName
	if opts.AnsweredBy == "" {
		opts.AnsweredBy = sess.UserID
	}
	return s.Assistant.SubmitStaffAnswer(ctx, questionID, input.Answer, opts)
}

func (s *Service) DeleteQuestion(ctx context.Context, questionID string) error {
	return s.Assistant.DeleteQuestion(ctx, questionID)
}

func (s *Service) SearchKnowledge(ctx context.Context, q search.Query) search.Response {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.Knowledge.Search(ctx, q)
}

func (s *Service) Export(ctx context.Context, weddingID, format string, includeDismissed bool, records int) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return s.Exporter.Export(ctx, export.Request{
		WeddingID:        weddingID,
		Format:           parsed,
		IncludeDismissed: includeDismissed,
		RecentRecords:    records,
	})
}

type CreateWeddingInput struct {
	CoupleName string `json:"coupleName"`
	EventDate  string `json:"eventDate"`
}

func (s *Service) CreateWedding(ctx context.Context, input CreateWeddingInput) (store.Wedding, error) {
	name := strings.TrimSpace(input.CoupleName)
	if name == "" {
		return store.Wedding{}, validationError("coupleName is required")
	}
	var eventDate *time.Time
	if raw := strings.TrimSpace(input.EventDate); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return store.Wedding{}, validationError("eventDate must be YYYY-MM-DD")
		}
		eventDate = &parsed
	}
	return s.Store.CreateWedding(ctx, name, eventDate)
}

func (s *Service) GetWedding(ctx context.Context, weddingID string) (store.Wedding, error) {
	return s.Store.GetWedding(ctx, weddingID)
}

type ContactInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type ContactResult struct {
	Profile identity.Profile `json:"profile"`
	// PossibleDuplicates lists existing contacts with similar names.
	PossibleDuplicates []identity.NameSuggestion `json:"possibleDuplicates"`
}

func (s *Service) AddContact(ctx context.Context, weddingID string, input ContactInput) (ContactResult, error) {
	name := strings.TrimSpace(input.Name)
	email := identity.NormalizeEmail(input.Email)
	phone := strings.TrimSpace(input.Phone)
	if name == "" {
		return ContactResult{}, validationError("name is required")
	}
	if email == "" && identity.NormalizePhone(phone) == "" {
		return ContactResult{}, validationError("email or phone is required")
	}
	if _, err := s.Store.GetWedding(ctx, weddingID); err != nil {
		return ContactResult{}, err
	}

	existing, err := s.Store.ListWeddingProfiles(ctx, weddingID)
	if err != nil {
		return ContactResult{}, err
	}
	profile, err := s.Store.AddProfile(ctx, identity.Profile{WeddingID: weddingID, Name: name, Email: email, Phone: phone})
	if err != nil {
		return ContactResult{}, err
	}
	suggestions := identity.SuggestGroup(name, existing)
	if suggestions == nil {
		suggestions = []identity.NameSuggestion{}
	}
	return ContactResult{Profile: profile, PossibleDuplicates: suggestions}, nil
}

func (s *Service) ListContacts(ctx context.Context, weddingID string) ([]identity.Profile, error) {
	if _, err := s.Store.GetWedding(ctx, weddingID); err != nil {
		return nil, err
	}
	profiles, err := s.Store.ListWeddingProfiles(ctx, weddingID)
	if err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = []identity.Profile{}
	}
	return profiles, nil
}

func (s *Service) ListActivity(ctx context.Context, weddingID string, limit int) ([]activity.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := s.Store.ListActivity(ctx, weddingID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	return entries, nil
}

// reportStatus is 200 for a clean run and 207 when records failed.
func reportStatus(report syncer.Report) int {
	if len(report.Errors) > 0 {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}

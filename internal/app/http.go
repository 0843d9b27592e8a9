package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"venueportal/api/internal/auth"
	"venueportal/api/internal/rbac"
	"venueportal/api/internal/search"
)

const maxWebhookBody = 4 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "webhooks" {
		s.handleWebhook(w, r, parts[2])
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
			"weddingId":     session.WeddingID,
			"expiresAt":     session.ExpiresAt,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context(), session); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "sync" {
		s.handleSync(w, r, session, parts[2:])
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/escalations" {
		if !s.service.Can(session.Role, rbac.ActionHandleEscalation) {
			s.forbid(w, r, session, rbac.ActionHandleEscalation)
			return
		}
		states, err := s.service.EscalationStates(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"escalations": states})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/knowledge" {
		if !s.service.Can(session.Role, rbac.ActionSearchKnowledge) {
			s.forbid(w, r, session, rbac.ActionSearchKnowledge)
			return
		}
		query := search.Query{
			Text:     strings.TrimSpace(r.URL.Query().Get("q")),
			Category: strings.TrimSpace(r.URL.Query().Get("category")),
		}
		var err error
		if query.Limit, err = queryInt(r, "limit", 20); err != nil {
			writeMappedError(w, err)
			return
		}
		if query.Offset, err = queryInt(r, "offset", 0); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.service.SearchKnowledge(r.Context(), query))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/weddings" {
		if !s.service.Can(session.Role, rbac.ActionManageWedding) {
			s.forbid(w, r, session, rbac.ActionManageWedding)
			return
		}
		var body CreateWeddingInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		wedding, err := s.service.CreateWedding(r.Context(), body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, wedding)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "weddings" {
		weddingID := parts[2]
		if !s.service.CanAccessWedding(session, weddingID) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		s.handleWedding(w, r, session, weddingID, parts[3:])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "notes" && parts[3] == "status" {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.service.Can(session.Role, rbac.ActionReviewNotes) {
			s.forbid(w, r, session, rbac.ActionReviewNotes)
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.UpdateNoteStatus(r.Context(), parts[2], body.Status)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "questions" {
		s.handleQuestion(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	token := strings.TrimSpace(r.Header.Get("X-Webhook-Token"))
	if token == "" {
		token = bearerToken(r)
	}
	if !s.service.WebhookAuthorized(token) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
		return
	}
	result, err := s.service.DepositWebhook(r.Context(), provider, raw)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if !s.service.Can(session.Role, rbac.ActionSync) {
		s.forbid(w, r, session, rbac.ActionSync)
		return
	}
	force := r.URL.Query().Get("force") == "true"

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		cursors, err := s.service.SyncStatus(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": cursors})
	case len(rest) == 0 && r.Method == http.MethodPost:
		reports := s.service.RunAll(r.Context(), force)
		writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
	case len(rest) == 1 && r.Method == http.MethodPost:
		report, err := s.service.RunSync(r.Context(), rest[0], force)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, reportStatus(report), report)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleWedding(w http.ResponseWriter, r *http.Request, session Session, weddingID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.service.Can(session.Role, rbac.ActionReadWedding) {
			s.forbid(w, r, session, rbac.ActionReadWedding)
			return
		}
		wedding, err := s.service.GetWedding(ctx, weddingID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wedding)
		return
	}

	switch {
	case rest[0] == "assistant" && len(rest) == 1 && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionAsk) {
			s.forbid(w, r, session, rbac.ActionAsk)
			return
		}
		var body struct {
			Question    string `json:"question"`
			ClientEmail string `json:"clientEmail"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, err := s.service.Ask(ctx, session, weddingID, body.Question, body.ClientEmail)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)

	case rest[0] == "escalation" && len(rest) == 1 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionHandleEscalation) {
			s.forbid(w, r, session, rbac.ActionHandleEscalation)
			return
		}
		state, err := s.service.EscalationState(ctx, weddingID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case rest[0] == "escalation" && len(rest) == 2 && rest[1] == "handled" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionHandleEscalation) {
			s.forbid(w, r, session, rbac.ActionHandleEscalation)
			return
		}
		state, err := s.service.MarkEscalationHandled(ctx, weddingID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case rest[0] == "notes" && len(rest) == 1 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionReviewNotes) {
			s.forbid(w, r, session, rbac.ActionReviewNotes)
			return
		}
		items, err := s.service.ListNotes(ctx, weddingID, r.URL.Query().Get("status"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": items})

	case rest[0] == "questions" && len(rest) == 1 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionAnswerQuestion) {
			s.forbid(w, r, session, rbac.ActionAnswerQuestion)
			return
		}
		questions, err := s.service.ListQuestions(ctx, weddingID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": questions})

	case rest[0] == "export" && len(rest) == 1 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionExport) {
			s.forbid(w, r, session, rbac.ActionExport)
			return
		}
		records, err := queryInt(r, "records", 0)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		query := r.URL.Query()
		result, err := s.service.Export(ctx, weddingID, query.Get("format"), query.Get("includeDismissed") == "true", records)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case rest[0] == "contacts" && len(rest) == 1 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionReadWedding) {
			s.forbid(w, r, session, rbac.ActionReadWedding)
			return
		}
		profiles, err := s.service.ListContacts(ctx, weddingID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"contacts": profiles})

	case rest[0] == "contacts" && len(rest) == 1 && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionManageWedding) {
			s.forbid(w, r, session, rbac.ActionManageWedding)
			return
		}
		var body ContactInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.AddContact(ctx, weddingID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)

	case rest[0] == "activity" && len(rest) == 1 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionReadWedding) {
			s.forbid(w, r, session, rbac.ActionReadWedding)
			return
		}
		limit, err := queryInt(r, "limit", 100)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		entries, err := s.service.ListActivity(ctx, weddingID, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": entries})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleQuestion(w http.ResponseWriter, r *http.Request, session Session, questionID string, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "answer" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionAnswerQuestion) {
			s.forbid(w, r, session, rbac.ActionAnswerQuestion)
			return
		}
		var body AnswerInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		question, err := s.service.AnswerQuestion(r.Context(), session, questionID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, question)
	case len(rest) == 0 && r.Method == http.MethodDelete:
		if !s.service.Can(session.Role, rbac.ActionDeleteQuestion) {
			s.forbid(w, r, session, rbac.ActionDeleteQuestion)
			return
		}
		if err := s.service.DeleteQuestion(r.Context(), questionID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// forbid writes a 403 and records the denial.
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	log.Info().
		Str("request_id", requestIDFrom(r.Context())).
		Str("user_id", session.UserID).
		Str("role", string(session.Role)).
		Str("action", string(action)).
		Msg("app: permission denied")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Webhook-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", code).Msg("app: request failed")
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(key + " must be an integer")
	}
	return parsed, nil
}

func bearerToken(r *http.Request) string {
	return auth.BearerToken(r.Header.Get("Authorization"))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

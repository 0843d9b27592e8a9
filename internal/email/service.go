// Package email sends staff notifications via SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"venueportal/api/internal/assistant"
	"venueportal/api/internal/escalation"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// StaffInbox receives review and escalation notices.
	StaffInbox string
	PortalURL  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service sends notification mail. It implements assistant.Notifier and
// escalation.Notifier.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if notices can be delivered.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != "" && s.config.StaffInbox != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "boundary-venueportal"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type questionData struct {
	WeddingID       string
	Question        string
	TentativeAnswer string
	Confidence      int
	ReviewURL       string
}

type escalationData struct {
	WeddingID  string
	Provider   string
	Keyword    string
	Body       string
	OccurredAt string
	PortalURL  string
}

// QuestionQueued tells staff an answer needs review. Unconfigured mail is a no-op.
func (s *Service) QuestionQueued(_ context.Context, q assistant.Question) error {
	if !s.IsConfigured() {
		return nil
	}
	data := questionData{
		WeddingID:       q.WeddingID,
		Question:        q.Question,
		TentativeAnswer: q.TentativeAnswer,
		Confidence:      q.Confidence,
		ReviewURL:       s.link("/staff/questions/" + q.ID),
	}
	html, err := renderTemplate(questionTemplate, data)
	if err != nil {
		return fmt.Errorf("render question template: %w", err)
	}
	text := fmt.Sprintf("Question from wedding %s needs review (confidence %d).\n\nQ: %s\nTentative: %s\n\n%s",
		q.WeddingID, q.Confidence, q.Question, q.TentativeAnswer, data.ReviewURL)
	return s.SendHTMLEmail([]string{s.config.StaffInbox}, "Question needs review: "+truncate(q.Question, 60), text, html)
}

// EscalationRaised alerts staff to an urgent client message.
func (s *Service) EscalationRaised(_ context.Context, weddingID string, m escalation.Message) error {
	if !s.IsConfigured() {
		return nil
	}
	data := escalationData{
		WeddingID:  weddingID,
		Provider:   string(m.Provider),
		Keyword:    m.Keyword,
		Body:       truncate(m.Body, 500),
		OccurredAt: m.OccurredAt.UTC().Format(time.RFC1123),
		PortalURL:  s.link("/staff/weddings/" + weddingID),
	}
	html, err := renderTemplate(escalationTemplate, data)
	if err != nil {
		return fmt.Errorf("render escalation template: %w", err)
	}
	text := fmt.Sprintf("Urgent %s message for wedding %s (matched %q at %s):\n\n%s\n\n%s",
		data.Provider, weddingID, m.Keyword, data.OccurredAt, data.Body, data.PortalURL)
	return s.SendHTMLEmail([]string{s.config.StaffInbox}, "Escalation: "+weddingID, text, html)
}

func (s *Service) link(path string) string {
	if s.config.PortalURL == "" {
		return ""
	}
	return strings.TrimRight(s.config.PortalURL, "/") + path
}

func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "…"
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const baseStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #7a5c3e; padding-bottom: 10px; margin-bottom: 20px; }
        .quote { background: #f7f3ee; padding: 12px; border-radius: 4px; margin: 16px 0; white-space: pre-wrap; }
        .button { display: inline-block; padding: 12px 24px; background: #7a5c3e; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }`

var questionTemplate = template.Must(template.New("question").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Question needs review</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="header"><h1>Venue Portal</h1></div>
    <h2>A client question needs review</h2>
    <p>Wedding <strong>{{.WeddingID}}</strong>, assistant confidence {{.Confidence}}.</p>
    <div class="quote">{{.Question}}</div>
    <p>Tentative answer shown to the client:</p>
    <div class="quote">{{.TentativeAnswer}}</div>
    {{if .ReviewURL}}<p><a href="{{.ReviewURL}}" class="button">Review question</a></p>{{end}}
</body>
</html>`))

var escalationTemplate = template.Must(template.New("escalation").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Escalation</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="header"><h1>Venue Portal</h1></div>
    <h2>Urgent message from wedding {{.WeddingID}}</h2>
    <p>Received via {{.Provider}} on {{.OccurredAt}}, matched "{{.Keyword}}".</p>
    <div class="quote">{{.Body}}</div>
    {{if .PortalURL}}<p><a href="{{.PortalURL}}" class="button">Open wedding</a></p>{{end}}
</body>
</html>`))

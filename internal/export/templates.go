package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"venueportal/api/internal/assistant"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/escalation"
	"venueportal/api/internal/notes"
)

//go:embed templates/*.html
var templateFS embed.FS

var planningTemplate = template.Must(template.New("planning.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string { return t.Format(layout) },
	"title": func(s string) string {
		s = strings.ReplaceAll(s, "_", " ")
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}).ParseFS(templateFS, "templates/planning.html"))

type Section struct {
	Category string
	Notes    []notes.Note
}

type TemplateData struct {
	Title         string
	CoupleName    string
	EventDate     *time.Time
	GeneratedAt   time.Time
	Sections      []Section
	Escalation    escalation.State
	OpenQuestions []assistant.Question
	Records       []comms.Record
}

func RenderPlanningHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := planningTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

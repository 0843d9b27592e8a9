package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"venueportal/api/internal/assistant"
	"venueportal/api/internal/comms"
	"venueportal/api/internal/escalation"
	"venueportal/api/internal/notes"
)

// Source loads everything that goes into a planning file.
type Source interface {
	Wedding(ctx context.Context, id string) (Wedding, error)
	Notes(ctx context.Context, weddingID string) ([]notes.Note, error)
	Escalation(ctx context.Context, weddingID string) (escalation.State, error)
	OpenQuestions(ctx context.Context, weddingID string) ([]assistant.Question, error)
	RecentRecords(ctx context.Context, weddingID string, limit int) ([]comms.Record, error)
}

type pdfRenderer func(ctx context.Context, html string, timeout time.Duration) ([]byte, error)

type Service struct {
	source  Source
	timeout time.Duration
	now     func() time.Time
	pdf     pdfRenderer
}

func NewService(source Source, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{source: source, timeout: timeout, now: time.Now, pdf: renderPDF}
}

// Export builds the planning file for one wedding.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	wedding, err := s.source.Wedding(ctx, req.WeddingID)
	if err != nil {
		return nil, fmt.Errorf("get wedding: %w", err)
	}

	data, err := s.collect(ctx, wedding, req)
	if err != nil {
		return nil, err
	}

	html, err := RenderPlanningHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := sanitizeFilename(wedding.CoupleName)
	switch req.Format {
	case FormatHTML, "":
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		pdf, err := s.pdf(ctx, html, s.timeout)
		if err != nil {
			return nil, err
		}
		return &Result{Data: pdf, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) collect(ctx context.Context, wedding Wedding, req Request) (TemplateData, error) {
	data := TemplateData{
		Title:       "Planning file: " + wedding.CoupleName,
		CoupleName:  wedding.CoupleName,
		EventDate:   wedding.EventDate,
		GeneratedAt: s.now().UTC(),
	}

	all, err := s.source.Notes(ctx, wedding.ID)
	if err != nil {
		return data, fmt.Errorf("list notes: %w", err)
	}
	data.Sections = groupNotes(all, req.IncludeDismissed)

	state, err := s.source.Escalation(ctx, wedding.ID)
	if err != nil {
		return data, fmt.Errorf("get escalation state: %w", err)
	}
	data.Escalation = state

	questions, err := s.source.OpenQuestions(ctx, wedding.ID)
	if err != nil {
		return data, fmt.Errorf("list open questions: %w", err)
	}
	data.OpenQuestions = questions

	if req.RecentRecords > 0 {
		records, err := s.source.RecentRecords(ctx, wedding.ID, req.RecentRecords)
		if err != nil {
			return data, fmt.Errorf("list records: %w", err)
		}
		data.Records = records
	}
	return data, nil
}

// groupNotes orders sections by the default taxonomy, then any other category
// alphabetically.
func groupNotes(all []notes.Note, includeDismissed bool) []Section {
	byCategory := make(map[notes.Category][]notes.Note)
	for _, note := range all {
		if note.Status == notes.StatusDismissed && !includeDismissed {
			continue
		}
		byCategory[note.Category] = append(byCategory[note.Category], note)
	}

	rank := make(map[notes.Category]int)
	for i, category := range notes.DefaultTaxonomy() {
		rank[category] = i
	}
	categories := make([]notes.Category, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		ri, iok := rank[categories[i]]
		rj, jok := rank[categories[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return categories[i] < categories[j]
		}
	})

	sections := make([]Section, 0, len(categories))
	for _, category := range categories {
		items := byCategory[category]
		sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
		sections = append(sections, Section{Category: string(category), Notes: items})
	}
	return sections
}

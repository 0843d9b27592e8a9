// Package mcptools exposes staff pipeline operations as MCP tools so an agent
// can run syncs and work the review queues.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"venueportal/api/internal/app"
	"venueportal/api/internal/assistant"
	"venueportal/api/internal/escalation"
	"venueportal/api/internal/notes"
	"venueportal/api/internal/rbac"
	"venueportal/api/internal/syncer"
)

// Backend is the subset of app.Service the tools call.
type Backend interface {
	RunSync(ctx context.Context, provider string, force bool) (syncer.Report, error)
	RunAll(ctx context.Context, force bool) []syncer.Report
	EscalationState(ctx context.Context, weddingID string) (escalation.State, error)
	MarkEscalationHandled(ctx context.Context, weddingID string) (escalation.State, error)
	ListQuestions(ctx context.Context, weddingID string) ([]assistant.Question, error)
	AnswerQuestion(ctx context.Context, sess app.Session, questionID string, input app.AnswerInput) (assistant.Question, error)
	UpdateNoteStatus(ctx context.Context, noteID, status string) (notes.Note, error)
}

type Tools struct {
	Backend Backend
	// Operator is recorded as the staff member answering questions.
	Operator string
}

type RunSyncInput struct {
	Provider string `json:"provider,omitempty" jsonschema:"Provider to sync (chat, email, sms, call, zoom, contract); empty syncs all"`
	Force    bool   `json:"force,omitempty" jsonschema:"Refetch from the beginning and re-extract stored records"`
}

type WeddingInput struct {
	WeddingID string `json:"weddingId" jsonschema:"Wedding identifier"`
}

type SubmitAnswerInput struct {
	QuestionID  string `json:"questionId" jsonschema:"Open question identifier"`
	Answer      string `json:"answer" jsonschema:"Staff answer sent to the client"`
	AddToKB     bool   `json:"addToKb,omitempty" jsonschema:"Also store the answer in the knowledge base"`
	Category    string `json:"category,omitempty" jsonschema:"Knowledge base category, required with addToKb"`
	Subcategory string `json:"subcategory,omitempty" jsonschema:"Optional knowledge base subcategory"`
	Title       string `json:"title,omitempty" jsonschema:"Optional knowledge base title"`
}

type NoteStatusInput struct {
	NoteID string `json:"noteId" jsonschema:"Planning note identifier"`
	Status string `json:"status" jsonschema:"New status: added, confirmed or dismissed"`
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(t *Tools, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "venueportal", Version: version}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "run_sync",
		Description: "Sync one provider, or all providers when none is given, and report what was stored",
	}, t.RunSync)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_escalation_state",
		Description: "Show unhandled distress messages for a wedding",
	}, t.GetEscalationState)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "mark_escalation_handled",
		Description: "Clear a wedding's escalation; only newer messages raise it again",
	}, t.MarkEscalationHandled)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_open_questions",
		Description: "List low-confidence client questions waiting for a staff answer",
	}, t.ListOpenQuestions)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "submit_staff_answer",
		Description: "Answer an open question, optionally adding it to the knowledge base",
	}, t.SubmitStaffAnswer)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "update_note_status",
		Description: "Move a planning note to added, confirmed or dismissed",
	}, t.UpdateNoteStatus)
	return srv
}

func (t *Tools) RunSync(ctx context.Context, _ *mcp.CallToolRequest, input RunSyncInput) (*mcp.CallToolResult, any, error) {
	if input.Provider == "" {
		return toolJSON(t.Backend.RunAll(ctx, input.Force))
	}
	report, err := t.Backend.RunSync(ctx, input.Provider, input.Force)
	if err != nil {
		return toolError("Sync failed: %v", err), nil, nil
	}
	return toolJSON(report)
}

func (t *Tools) GetEscalationState(ctx context.Context, _ *mcp.CallToolRequest, input WeddingInput) (*mcp.CallToolResult, any, error) {
	if input.WeddingID == "" {
		return toolError("weddingId is required"), nil, nil
	}
	state, err := t.Backend.EscalationState(ctx, input.WeddingID)
	if err != nil {
		return toolError("Failed to load escalation state: %v", err), nil, nil
	}
	return toolJSON(state)
}

func (t *Tools) MarkEscalationHandled(ctx context.Context, _ *mcp.CallToolRequest, input WeddingInput) (*mcp.CallToolResult, any, error) {
	if input.WeddingID == "" {
		return toolError("weddingId is required"), nil, nil
	}
	state, err := t.Backend.MarkEscalationHandled(ctx, input.WeddingID)
	if err != nil {
		return toolError("Failed to mark escalation handled: %v", err), nil, nil
	}
	return toolJSON(state)
}

func (t *Tools) ListOpenQuestions(ctx context.Context, _ *mcp.CallToolRequest, input WeddingInput) (*mcp.CallToolResult, any, error) {
	questions, err := t.Backend.ListQuestions(ctx, input.WeddingID)
	if err != nil {
		return toolError("Failed to list questions: %v", err), nil, nil
	}
	return toolJSON(questions)
}

func (t *Tools) SubmitStaffAnswer(ctx context.Context, _ *mcp.CallToolRequest, input SubmitAnswerInput) (*mcp.CallToolResult, any, error) {
	if input.QuestionID == "" {
		return toolError("questionId is required"), nil, nil
	}
	operator := t.Operator
	if operator == "" {
		operator = "mcp"
	}
	sess := app.Session{UserID: operator, UserName: operator, Role: rbac.RoleStaff}
	question, err := t.Backend.AnswerQuestion(ctx, sess, input.QuestionID, app.AnswerInput{
		Answer: input.Answer,
		PromoteOptions: assistant.PromoteOptions{
			AddToKB:     input.AddToKB,
			Category:    input.Category,
			Subcategory: input.Subcategory,
			Title:       input.Title,
		},
	})
	if err != nil {
		return toolError("Failed to submit answer: %v", err), nil, nil
	}
	return toolJSON(question)
}

func (t *Tools) UpdateNoteStatus(ctx context.Context, _ *mcp.CallToolRequest, input NoteStatusInput) (*mcp.CallToolResult, any, error) {
	if input.NoteID == "" {
		return toolError("noteId is required"), nil, nil
	}
	note, err := t.Backend.UpdateNoteStatus(ctx, input.NoteID, input.Status)
	if err != nil {
		return toolError("Failed to update note: %v", err), nil, nil
	}
	return toolJSON(note)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

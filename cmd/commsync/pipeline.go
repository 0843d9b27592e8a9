package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"venueportal/api/internal/app"
	"venueportal/api/internal/config"
	"venueportal/api/internal/rbac"
	"venueportal/api/internal/store"
	"venueportal/api/internal/syncer"
)

func migrateCmd() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if statusOnly {
				statuses, err := store.Migrations(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(statuses)
					return nil
				}
				for _, s := range statuses {
					mark := " "
					if s.Applied {
						mark = "x"
					}
					fmt.Printf("[%s] %s\n", mark, s.Version)
				}
				return nil
			}

			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"applied": applied})
				return nil
			}
			if len(applied) == 0 {
				fmt.Println("database is up to date")
			}
			for _, v := range applied {
				fmt.Printf("applied %s\n", v)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "List migrations without applying them")
	return cmd
}

func syncCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync [provider]",
		Short: "Sync one provider, or every enabled provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				var reports []syncer.Report
				if len(args) == 1 {
					report, err := c.Service.RunSync(ctx, args[0], force)
					if err != nil {
						return err
					}
					reports = append(reports, report)
				} else {
					reports = c.Service.RunAll(ctx, force)
				}
				if jsonOutput {
					printJSON(reports)
					return nil
				}
				for _, r := range reports {
					printReport(r)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Refetch from the beginning and re-extract stored records")
	return cmd
}

func printReport(r syncer.Report) {
	if r.Error != "" {
		fmt.Printf("%-9s failed: %s\n", r.Provider, r.Error)
		return
	}
	fmt.Printf("%-9s fetched=%d stored=%d unattributable=%d notes=%d errors=%d (%s)\n",
		r.Provider, r.Fetched, r.Stored, r.Unattributable, r.NotesCreated, len(r.Errors),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Printf("          %s: %s\n", e.RecordID, e.Error)
	}
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show each provider's sync cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				cursors, err := c.Service.SyncStatus(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(cursors)
					return nil
				}
				for _, cur := range cursors {
					synced := "never"
					if cur.SyncedAt != nil {
						synced = cur.SyncedAt.Local().Format(time.RFC822)
					}
					fmt.Printf("%-9s %-8s last=%s position=%q %s\n", cur.Provider, cur.Status, synced, cur.Position, cur.LastError)
				}
				return nil
			})
		},
	}
}

func escalationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "escalations [wedding-id]",
		Short: "List weddings with unhandled distress messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				if len(args) == 1 {
					state, err := c.Service.EscalationState(ctx, args[0])
					if err != nil {
						return err
					}
					if jsonOutput {
						printJSON(state)
						return nil
					}
					fmt.Printf("%s: %d unhandled\n", state.WeddingID, state.Count)
					for _, m := range state.Messages {
						fmt.Printf("  %s [%s] %q: %s\n", m.OccurredAt.Local().Format(time.RFC822), m.Provider, m.Keyword, m.Body)
					}
					return nil
				}
				states, err := c.Service.EscalationStates(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(states)
					return nil
				}
				for _, s := range states {
					if s.HasEscalation {
						fmt.Printf("%s: %d unhandled\n", s.WeddingID, s.Count)
					}
				}
				return nil
			})
		},
	}
}

func handleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handle <wedding-id>",
		Short: "Mark a wedding's escalation as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				state, err := c.Service.MarkEscalationHandled(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(state)
					return nil
				}
				fmt.Printf("%s handled; %d messages still unhandled\n", state.WeddingID, state.Count)
				return nil
			})
		},
	}
}

func questionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "questions [wedding-id]",
		Short: "List open questions awaiting a staff answer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			weddingID := ""
			if len(args) == 1 {
				weddingID = args[0]
			}
			return withComponents(func(ctx context.Context, c *app.Components) error {
				questions, err := c.Service.ListQuestions(ctx, weddingID)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(questions)
					return nil
				}
				for _, q := range questions {
					fmt.Printf("%s  %s  (%d)  %s\n", q.ID, q.WeddingID, q.Confidence, q.Question)
				}
				return nil
			})
		},
	}
}

func answerCmd() *cobra.Command {
	var (
		input app.AnswerInput
		by    string
	)
	cmd := &cobra.Command{
		Use:   "answer <question-id>",
		Short: "Answer an open question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				sess := app.Session{UserID: by, UserName: by, Role: rbac.RoleStaff}
				question, err := c.Service.AnswerQuestion(ctx, sess, args[0], input)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(question)
					return nil
				}
				fmt.Printf("answered %s", question.ID)
				if question.PromotedToKB {
					fmt.Printf(" and added to %s", question.KBCategory)
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input.Answer, "text", "", "Answer text")
	cmd.Flags().BoolVar(&input.AddToKB, "kb", false, "Add the answer to the knowledge base")
	cmd.Flags().StringVar(&input.Category, "category", "", "Knowledge base category")
	cmd.Flags().StringVar(&input.Subcategory, "subcategory", "", "Knowledge base subcategory")
	cmd.Flags().StringVar(&input.Title, "title", "", "Knowledge base title")
	cmd.Flags().StringVar(&by, "by", os.Getenv("USER"), "Staff member answering")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func notesCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "notes <wedding-id>",
		Short: "List a wedding's planning notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				items, err := c.Service.ListNotes(ctx, args[0], status)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(items)
					return nil
				}
				for _, n := range items {
					fmt.Printf("%s  %-9s %-14s %s\n", n.ID, n.Status, n.Category, n.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, added, confirmed, dismissed)")
	return cmd
}

func noteStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note-status <note-id> <status>",
		Short: "Move a planning note to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				note, err := c.Service.UpdateNoteStatus(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(note)
					return nil
				}
				fmt.Printf("%s is now %s\n", note.ID, note.Status)
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var (
		format           string
		out              string
		includeDismissed bool
		records          int
	)
	cmd := &cobra.Command{
		Use:   "export <wedding-id>",
		Short: "Render a wedding's planning file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				result, err := c.Service.Export(ctx, args[0], format, includeDismissed, records)
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = result.Filename
				}
				if err := os.WriteFile(path, result.Data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				if jsonOutput {
					printJSON(map[string]any{"path": path, "bytes": len(result.Data), "mimeType": result.MimeType})
					return nil
				}
				fmt.Printf("wrote %s (%d bytes)\n", path, len(result.Data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "html", "Output format (html or pdf)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (defaults to the generated filename)")
	cmd.Flags().BoolVar(&includeDismissed, "include-dismissed", false, "Include dismissed notes")
	cmd.Flags().IntVar(&records, "records", 0, "Append the most recent communications")
	return cmd
}

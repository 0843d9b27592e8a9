package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"venueportal/api/internal/app"
	"venueportal/api/internal/auth"
	"venueportal/api/internal/config"
	"venueportal/api/internal/mcptools"
	"venueportal/api/internal/rbac"
)

func kbHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "kb-history",
		Short: "Show recent knowledge base journal commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				commits, err := c.Journal.History(limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(commits)
					return nil
				}
				for _, entry := range commits {
					hash := entry.Hash
					if len(hash) > 8 {
						hash = hash[:8]
					}
					fmt.Printf("%s  %s  %-16s %s\n", hash, entry.CreatedAt.Local().Format("2006-01-02"), entry.Author, entry.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of commits")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		name      string
		role      string
		weddingID string
		ttl       time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue <subject>",
		Short: "Issue a portal access token",
		Long: `Issue a signed access token. Staff and coordinator subjects are their
login; client subjects are the client's email and need --wedding.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			normalized := rbac.Normalize(role)
			if string(normalized) != strings.ToLower(strings.TrimSpace(role)) {
				return fmt.Errorf("unknown role %q", role)
			}
			if normalized == rbac.RoleClient && weddingID == "" {
				return fmt.Errorf("client tokens need --wedding")
			}
			cfg := config.Load()
			claims := auth.NewClaims(args[0], name, string(normalized), weddingID, ttl)
			token, err := auth.IssueToken([]byte(cfg.TokenSecret), claims)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"token": token, "jti": claims.JTI, "expiresAt": claims.ExpiresAt()})
				return nil
			}
			fmt.Println(token)
			return nil
		},
	}
	issue.Flags().StringVar(&name, "name", "", "Display name")
	issue.Flags().StringVar(&role, "role", string(rbac.RoleStaff), "Role (client, coordinator, staff)")
	issue.Flags().StringVar(&weddingID, "wedding", "", "Wedding the client token is scoped to")
	issue.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")

	cmd := &cobra.Command{Use: "token", Short: "Manage access tokens"}
	cmd.AddCommand(issue)
	return cmd
}

func mcpCmd() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve pipeline tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(func(ctx context.Context, c *app.Components) error {
				srv := mcptools.NewServer(&mcptools.Tools{Backend: c.Service, Operator: operator}, version)
				log.Info().Msg("commsync MCP server starting (stdio)")
				return srv.Run(ctx, &mcp.StdioTransport{})
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "mcp", "Name recorded on staff answers")
	return cmd
}

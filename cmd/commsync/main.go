package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"venueportal/api/internal/app"
	"venueportal/api/internal/config"
	"venueportal/api/internal/util"
)

var (
	version    = "dev"
	commit     = "none"
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "commsync",
		Short: "Venue portal communications pipeline",
		Long: `commsync runs the client communications pipeline from the command line:
provider syncs, escalation review, open questions, planning notes and
planning file exports.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			util.ConfigureLogging(cfg.LogLevel, "console", os.Stderr)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(
		versionCmd(),
		migrateCmd(),
		syncCmd(),
		syncStatusCmd(),
		escalationsCmd(),
		handleCmd(),
		questionsCmd(),
		answerCmd(),
		notesCmd(),
		noteStatusCmd(),
		exportCmd(),
		kbHistoryCmd(),
		tokenCmd(),
		mcpCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withComponents bootstraps the pipeline for one command and releases it after.
func withComponents(fn func(ctx context.Context, c *app.Components) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	pipeline, err := config.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		return err
	}
	components, err := app.Bootstrap(ctx, cfg, pipeline)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(ctx, components)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{"version": version, "commit": commit})
				return
			}
			fmt.Printf("commsync %s (%s)\n", version, commit)
		},
	}
}

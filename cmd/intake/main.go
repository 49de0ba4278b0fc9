package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/intake/cmd/intake/commands"
	"github.com/teranos/intake/logger"
)

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "intake - candidate ingestion and scoring pipeline",
	Long: `intake - candidate ingestion and scoring pipeline.

intake reads applicants from a spreadsheet, a CSV/Excel file or an HR-system
report, maps their columns, downloads and reads their resumes, and scores
each candidate against the job description.

Available commands:
  server  - Start the HTTP API and pipeline workers
  submit  - Submit an ingestion job
  jobs    - Inspect, retry and delete jobs
  export  - Export a job's shortlist to Excel
  am      - Manage configuration ("I am")
  db      - Database statistics and migrations

Examples:
  intake server -v                          # Start serving with info logs
  intake submit --file job.yaml             # Queue a job
  intake jobs show <id>                     # Follow a job
  intake export <id> -o shortlist.xlsx      # Export the shortlist`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if cmd.Name() == commands.ServerCmd.Name() && verbosity == 0 {
			verbosity = logger.VerbosityInfo
		}
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithVerbosity(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Print command output as JSON")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigFile, "config", "", "Config file (default: am.toml cascade)")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ExportCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/intake/display"
	"github.com/teranos/intake/export"
	"github.com/teranos/intake/model"
)

// JobsCmd groups job inspection and management
var JobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"job"},
	Short:   "Inspect and manage ingestion jobs",
	Long: `Inspect and manage ingestion jobs.

Examples:
  intake jobs ls                  # List recent jobs
  intake jobs ls --owner rec-1    # List one recruiter's jobs
  intake jobs show <id>           # Stage, progress and ranked candidates
  intake jobs logs <id>           # Job log
  intake jobs retry <id>          # Rerun the failed stage of a FAILED job
  intake jobs rm <id>             # Delete a job and its candidates`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, most recent first",
	RunE:  runJobsLs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job and its candidates",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show a job's log, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry the failed stage of a FAILED job",
	Long: `Reset the failed stage's retry budget and queue it again. The stage runs
when an 'intake server' is up.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsRetry,
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job, its candidates and its pending tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRm,
}

var (
	jobsOwner     string
	jobsLimit     int
	jobsLogsLimit int
)

func init() {
	jobsLsCmd.Flags().StringVar(&jobsOwner, "owner", "", "Only jobs of this owner")
	jobsLsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to display")
	jobsLogsCmd.Flags().IntVar(&jobsLogsLimit, "limit", 200, "Maximum number of log lines")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsLogsCmd)
	JobsCmd.AddCommand(jobsRetryCmd)
	JobsCmd.AddCommand(jobsRmCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	jobs, err := s.ListJobs(context.Background(), jobsOwner, jobsLimit)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		if jobs == nil {
			jobs = []*model.Job{}
		}
		return display.OutputJSON(jobs)
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No jobs found")
		return nil
	}

	data := pterm.TableData{{"JOB ID", "TITLE", "SOURCE", "STAGE", "PROGRESS", "CANDIDATES", "CREATED"}}
	for _, job := range jobs {
		data = append(data, []string{
			job.ID,
			truncate(job.Title, 30),
			string(job.SourceType),
			stageLabel(job.Stage),
			fmt.Sprintf("%.0f%%", job.ProcessingPercentage),
			fmt.Sprintf("%d/%d", job.ReviewedCount, job.TotalCandidates),
			job.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	job, err := s.GetJob(ctx, args[0])
	if err != nil {
		return err
	}
	candidates, err := s.ListCandidates(ctx, job.ID)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(struct {
			Job        *model.Job         `json:"job"`
			Candidates []*model.Candidate `json:"candidates"`
		}{job, candidates})
	}

	pterm.Printf("Job:        %s\n", job.ID)
	pterm.Printf("Title:      %s\n", job.Title)
	pterm.Printf("Owner:      %s\n", job.OwnerID)
	pterm.Printf("Source:     %s %s\n", job.SourceType, job.SourceRef)
	pterm.Printf("Stage:      %s (%.1f%%)\n", stageLabel(job.Stage), job.ProcessingPercentage)
	if job.HasFailedStage() {
		pterm.Printf("Failed at:  %s, attempt %d of %d\n",
			job.LastProcessedStage, job.StageAttempts.Get(job.LastProcessedStage), job.MaxRetries+1)
	}
	pterm.Printf("Candidates: %d (%d reviewed)\n", job.TotalCandidates, job.ReviewedCount)
	pterm.Printf("Created:    %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	pterm.Println()

	if len(candidates) == 0 {
		return nil
	}
	data := pterm.TableData{{"NAME", "EMAIL", "MATCH", "SCORE", "RESUME"}}
	for _, c := range export.Rank(candidates) {
		score := "-"
		if c.MatchScore != nil {
			score = fmt.Sprintf("%d", *c.MatchScore)
		}
		resume := "no"
		if c.HasResume() {
			resume = "yes"
		}
		data = append(data, []string{truncate(c.Name, 30), c.Email, tierLabel(c.MatchTier), score, resume})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	s, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	if _, err := s.GetJob(ctx, args[0]); err != nil {
		return err
	}
	logs, err := s.ListJobLogs(ctx, args[0], jobsLogsLimit)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		if logs == nil {
			logs = []model.LogEntry{}
		}
		return display.OutputJSON(logs)
	}
	for _, entry := range logs {
		line := fmt.Sprintf("%s  %s", entry.Time.Format("15:04:05"), entry.Message)
		switch strings.ToLower(entry.Level) {
		case "error":
			pterm.Println(pterm.Red(line))
		case "warn", "warning":
			pterm.Println(pterm.Yellow(line))
		default:
			pterm.Println(line)
		}
	}
	return nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.RetryJob(ctx, args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Retry queued for %s\n", args[0])
	return nil
}

func runJobsRm(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.DeleteJob(ctx, args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Deleted %s\n", args[0])
	return nil
}

// stageLabel colors terminal stages
func stageLabel(s model.Stage) string {
	switch s {
	case model.StageCompleted:
		return pterm.Green(s.String())
	case model.StageFailed:
		return pterm.Red(s.String())
	default:
		return pterm.LightCyan(s.String())
	}
}

// tierLabel colors match tiers the way the export colors its rows
func tierLabel(t model.MatchTier) string {
	switch t {
	case model.TierHighMatch:
		return pterm.Green(string(t))
	case model.TierMediumMatch:
		return pterm.Yellow(string(t))
	case model.TierLowMatch:
		return pterm.LightRed(string(t))
	case model.TierUnqualified:
		return pterm.Gray(string(t))
	default:
		return "-"
	}
}

// truncate shortens s to maxLen runes
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/intake/export"
)

// ExportCmd writes a job's ranked candidates to an Excel workbook
var ExportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a job's shortlist to .xlsx",
	Long: `Write a workbook with a Summary sheet, a Shortlist of HighMatch and
MediumMatch candidates, and every candidate with their mapped columns.

Examples:
  intake export <id>                      # shortlist-<id>.xlsx
  intake export <id> -o backend-q3.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var exportOutput string

func init() {
	ExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default shortlist-<job>.xlsx)")
}

func runExport(cmd *cobra.Command, args []string) error {
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

	path := exportOutput
	if path == "" {
		path = fmt.Sprintf("shortlist-%s", job.ShortID())
	}
	written, err := export.WriteFile(path, job, candidates)
	if err != nil {
		return err
	}

	shortlisted := 0
	for _, c := range candidates {
		if export.Shortlisted(c) {
			shortlisted++
		}
	}
	pterm.Success.Printf("Wrote %s (%d candidates, %d shortlisted)\n", written, len(candidates), shortlisted)
	return nil
}

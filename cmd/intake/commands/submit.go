package commands

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/intake/display"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/pipeline"
)

// SubmitCmd queues a new ingestion job
var SubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a candidate ingestion job",
	Long: `Create a job and queue its first stage. A running 'intake server' executes it.

The job can be described with flags, with a YAML/TOML/JSON file, or both;
flags override values read from the file.

Source types:
  SPREADSHEET    Google Sheets URL or ID (--sheet picks the tab)
  TABULAR_FILE   Path to a .csv or .xlsx file
  HR_REPORT      HR-system report URL

Examples:
  intake submit --owner rec-1 --title "Backend Engineer" --type TABULAR_FILE --ref applicants.csv
  intake submit --file job.yaml
  intake submit --file job.toml --max-retries 0`,
	RunE: runSubmit,
}

var (
	submitFile           string
	submitOwner          string
	submitTitle          string
	submitType           string
	submitRef            string
	submitSheet          string
	submitCredentialsRef string
	submitDescription    string
	submitQualifications string
	submitSkills         string
	submitMaxRetries     int
)

func init() {
	f := SubmitCmd.Flags()
	f.StringVarP(&submitFile, "file", "f", "", "Read the job from a .yaml, .toml or .json file")
	f.StringVar(&submitOwner, "owner", "", "Owner (recruiter) ID")
	f.StringVar(&submitTitle, "title", "", "Job title")
	f.StringVar(&submitType, "type", "", "Source type: SPREADSHEET, TABULAR_FILE, HR_REPORT")
	f.StringVar(&submitRef, "ref", "", "Source reference (URL, sheet ID or file path)")
	f.StringVar(&submitSheet, "sheet", "", "Spreadsheet tab to read")
	f.StringVar(&submitCredentialsRef, "credentials-ref", "", "HR-system account name")
	f.StringVar(&submitDescription, "description", "", "Job description text")
	f.StringVar(&submitQualifications, "qualifications", "", "Minimum qualifications")
	f.StringVar(&submitSkills, "skills", "", "Minimum skills")
	f.IntVar(&submitMaxRetries, "max-retries", 0, "Retries per stage (default pipeline.max_retries)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req, err := buildSubmitRequest(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.Service.SubmitJob(ctx, req)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(map[string]string{"jobId": id})
	}
	pterm.Success.Printf("Job queued: %s\n", id)
	pterm.Info.Printf("Monitor with: intake jobs show %s\n", id)
	return nil
}

// buildSubmitRequest reads --file, then applies every flag the user set
func buildSubmitRequest(cmd *cobra.Command) (pipeline.SubmitRequest, error) {
	var req pipeline.SubmitRequest
	if submitFile != "" {
		loaded, err := loadSubmitFile(submitFile)
		if err != nil {
			return req, err
		}
		req = *loaded
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("owner", &req.OwnerID, submitOwner)
	set("title", &req.Title, submitTitle)
	set("ref", &req.SourceRef, submitRef)
	set("sheet", &req.SourceOptions.SheetName, submitSheet)
	set("credentials-ref", &req.SourceOptions.CredentialsRef, submitCredentialsRef)
	set("description", &req.JobDescription, submitDescription)
	set("qualifications", &req.MinimumQualifications, submitQualifications)
	set("skills", &req.MinimumSkills, submitSkills)
	if flags.Changed("type") {
		req.SourceType = model.SourceType(submitType)
	}
	if flags.Changed("max-retries") {
		n := submitMaxRetries
		req.MaxRetries = &n
	}
	return req, nil
}

// loadSubmitFile decodes a job description file, picking the format by extension
func loadSubmitFile(path string) (*pipeline.SubmitRequest, error) {
	var req pipeline.SubmitRequest

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &req); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
		return &req, nil

	case ".yaml", ".yml", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		if ext == ".json" {
			err = json.Unmarshal(data, &req)
		} else {
			err = yaml.Unmarshal(data, &req)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
		return &req, nil

	default:
		return nil, errors.NewInvalidRequestError("unsupported job file %s (use .yaml, .toml or .json)", path)
	}
}

// Package export writes a job's ranked candidates to an Excel workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
)

// Sheet names
const (
	SummarySheet   = "Summary"
	ShortlistSheet = "Shortlist"
	AllSheet       = "All Candidates"
)

var tierColors = map[model.MatchTier]string{
	model.TierHighMatch:   "C6EFCE",
	model.TierMediumMatch: "FFEB9C",
	model.TierLowMatch:    "FFC7CE",
	model.TierUnqualified: "FF9999",
}

var baseColumns = []string{"Rank", "Name", "Email", "Phone", "Match", "Score", "Review", "Important Questions", "Questions", "Resume"}

// Rank orders candidates by tier, then by score descending. Unscored
// candidates come last; ties keep source order.
func Rank(candidates []*model.Candidate) []*model.Candidate {
	out := append([]*model.Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.MatchTier.Rank(), b.MatchTier.Rank(); ra != rb {
			return ra < rb
		}
		return score(a) > score(b)
	})
	return out
}

// Shortlisted reports whether a candidate belongs on the shortlist
func Shortlisted(c *model.Candidate) bool {
	return c.MatchTier == model.TierHighMatch || c.MatchTier == model.TierMediumMatch
}

func score(c *model.Candidate) int {
	if c.MatchScore == nil {
		return -1
	}
	return *c.MatchScore
}

// Write renders the workbook for job to w
func Write(w io.Writer, job *model.Job, candidates []*model.Candidate) error {
	f, err := build(job, candidates)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, "failed to write workbook")
	}
	return nil
}

// WriteFile saves the workbook at path, adding .xlsx when missing, and
// returns the path written
func WriteFile(path string, job *model.Job, candidates []*model.Candidate) (string, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		path += ".xlsx"
	}
	path = filepath.Clean(path)

	out, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to create export file")
	}
	if err := Write(out, job, candidates); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close export file")
	}
	return path, nil
}

func build(job *model.Job, candidates []*model.Candidate) (*excelize.File, error) {
	ranked := Rank(candidates)
	var shortlist []*model.Candidate
	for _, c := range ranked {
		if Shortlisted(c) {
			shortlist = append(shortlist, c)
		}
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to name summary sheet")
	}
	for _, name := range []string{ShortlistSheet, AllSheet} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "failed to add sheet %s", name)
		}
	}

	if err := writeSummary(f, job, ranked, len(shortlist)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to write summary sheet")
	}
	if err := writeCandidates(f, ShortlistSheet, shortlist, nil); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to write shortlist sheet")
	}
	if err := writeCandidates(f, AllSheet, ranked, dynamicKeys(ranked)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to write candidates sheet")
	}
	return f, nil
}

func writeSummary(f *excelize.File, job *model.Job, ranked []*model.Candidate, shortlisted int) error {
	if err := f.SetColWidth(SummarySheet, "A", "A", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(SummarySheet, "B", "B", 60); err != nil {
		return err
	}
	label, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	counts := make(map[model.MatchTier]int)
	for _, c := range ranked {
		counts[c.MatchTier]++
	}

	rows := [][2]interface{}{
		{"Job", job.Title},
		{"Source", fmt.Sprintf("%s (%s)", job.SourceType, job.SourceRef)},
		{"Generated", time.Now().UTC().Format("2006-01-02 15:04:05 MST")},
		{"Stage", job.Stage.String()},
		{"Candidates", len(ranked)},
		{"Reviewed", job.ReviewedCount},
		{"Shortlisted", shortlisted},
		{"High Match", counts[model.TierHighMatch]},
		{"Medium Match", counts[model.TierMediumMatch]},
		{"Low Match", counts[model.TierLowMatch]},
		{"Unqualified", counts[model.TierUnqualified]},
	}
	for i, r := range rows {
		a := fmt.Sprintf("A%d", i+1)
		if err := f.SetCellValue(SummarySheet, a, r[0]); err != nil {
			return err
		}
		if err := f.SetCellStyle(SummarySheet, a, a, label); err != nil {
			return err
		}
		if err := f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", i+1), r[1]); err != nil {
			return err
		}
	}
	return nil
}

func writeCandidates(f *excelize.File, sheet string, candidates []*model.Candidate, extra []string) error {
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	tierStyles := make(map[model.MatchTier]int, len(tierColors))
	for tier, color := range tierColors {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
		})
		if err != nil {
			return err
		}
		tierStyles[tier] = id
	}

	columns := append(append([]string(nil), baseColumns...), extra...)
	if err := f.SetSheetRow(sheet, "A1", &columns); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(columns))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", header); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "D", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "G", "I", 48); err != nil {
		return err
	}

	for i, c := range candidates {
		row := i + 2
		values := []interface{}{
			i + 1,
			c.Name,
			c.Email,
			c.Phone,
			string(c.MatchTier),
			scoreCell(c),
			c.ReviewComment,
			strings.Join(c.ImportantQuestions, "\n"),
			strings.Join(c.Questions, "\n"),
			resumeCell(c),
		}
		for _, key := range extra {
			values = append(values, c.DynamicFields.Value(key))
		}
		cell := fmt.Sprintf("A%d", row)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		if style, ok := tierStyles[c.MatchTier]; ok {
			if err := f.SetCellStyle(sheet, cell, fmt.Sprintf("%s%d", last, row), style); err != nil {
				return err
			}
		}
		if c.HasResume() {
			if err := f.SetCellHyperLink(sheet, fmt.Sprintf("J%d", row), c.ResumeURL, "External"); err != nil {
				return err
			}
		}
	}

	if len(candidates) > 0 {
		ref := fmt.Sprintf("A1:%s%d", last, len(candidates)+1)
		if err := f.AutoFilter(sheet, ref, []excelize.AutoFilterOptions{}); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func scoreCell(c *model.Candidate) interface{} {
	if c.MatchScore == nil {
		return ""
	}
	return *c.MatchScore
}

func resumeCell(c *model.Candidate) string {
	if !c.HasResume() {
		return ""
	}
	return c.ResumeURL
}

// dynamicKeys is the union of the candidates' extra columns in first-seen order
func dynamicKeys(candidates []*model.Candidate) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, c := range candidates {
		for _, k := range c.DynamicFields.Keys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

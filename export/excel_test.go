package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/teranos/intake/model"
)

func scored(name string, tier model.MatchTier, score int) *model.Candidate {
	s := score
	return &model.Candidate{
		ID:            name,
		Name:          name,
		Email:         name + "@dreamland.test",
		ResumeURL:     model.NoResume,
		MatchTier:     tier,
		MatchScore:    &s,
		DynamicFields: model.FieldsFromPairs([]string{"Years"}, []string{"5"}),
	}
}

func fixture() (*model.Job, []*model.Candidate) {
	job := &model.Job{ID: "job-1", Title: "Star Warrior", SourceType: model.SourceTabularFile, SourceRef: "dreamland.csv", Stage: model.StageCompleted}
	unscored := &model.Candidate{ID: "waddle", Name: "Waddle Dee", ResumeURL: model.NoResume}
	return job, []*model.Candidate{
		scored("dedede", model.TierLowMatch, 45),
		unscored,
		scored("metaknight", model.TierMediumMatch, 88),
		scored("kirby", model.TierHighMatch, 97),
		scored("bandana", model.TierMediumMatch, 71),
	}
}

func TestRank(t *testing.T) {
	_, candidates := fixture()

	var names []string
	for _, c := range Rank(candidates) {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"kirby", "metaknight", "bandana", "dedede", "Waddle Dee"}, names)
	assert.Equal(t, "dedede", candidates[0].Name, "input is not reordered")
}

func TestWrite(t *testing.T) {
	job, candidates := fixture()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, job, candidates))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SummarySheet, ShortlistSheet, AllSheet}, f.GetSheetList())

	shortlist, err := f.GetRows(ShortlistSheet)
	require.NoError(t, err)
	require.Len(t, shortlist, 4)
	assert.Equal(t, baseColumns, shortlist[0])
	assert.Equal(t, "kirby", shortlist[1][1])
	assert.Equal(t, "HighMatch", shortlist[1][4])
	assert.Equal(t, "metaknight", shortlist[2][1])
	assert.Equal(t, "bandana", shortlist[3][1])

	all, err := f.GetRows(AllSheet)
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "Years", all[0][len(baseColumns)])
	assert.Equal(t, "Waddle Dee", all[5][1])

	shortlisted, err := f.GetCellValue(SummarySheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "3", shortlisted)
}

func TestWriteFileAddsExtension(t *testing.T) {
	job, candidates := fixture()

	path, err := WriteFile(filepath.Join(t.TempDir(), "shortlist"), job, candidates)
	require.NoError(t, err)
	assert.Equal(t, ".xlsx", filepath.Ext(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	name, err := f.GetCellValue(ShortlistSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "kirby", name)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/intake/errors"
	qtest "github.com/teranos/intake/internal/testing"
	"github.com/teranos/intake/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	return New(qtest.CreateTestDB(t))
}

func newTestJob(t *testing.T, s *SQLStore) *model.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &model.Job{
		ID:             uuid.New().String(),
		OwnerID:        "recruiter-yugi",
		Title:          "Duelist",
		SourceType:     model.SourceTabularFile,
		SourceRef:      "applicants.csv",
		SourceOptions:  model.SourceOptions{SheetName: "Round 1"},
		JobDescription: "Summon monsters, win tournaments",
		Stage:          model.StageCreated,
		MaxRetries:     model.DefaultMaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func TestJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(t, s)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Duelist", got.Title)
	assert.Equal(t, model.SourceTabularFile, got.SourceType)
	assert.Equal(t, "Round 1", got.SourceOptions.SheetName)
	assert.Equal(t, model.StageCreated, got.Stage)
	assert.Equal(t, model.StageCreated, got.LastProcessedStage)
	assert.False(t, got.HasFailedStage())
	assert.Empty(t, got.SortedResults)

	got.Stage = model.StageFailed
	got.LastProcessedStage = model.StageTextExtraction
	got.TotalCandidates = 2
	got.SortedResults = []model.SortedResult{{CandidateID: "c1", MatchTier: model.TierHighMatch, MatchScore: 95}}
	require.NoError(t, s.UpdateJob(ctx, got))

	again, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, again.Stage)
	assert.Equal(t, model.StageTextExtraction, again.LastProcessedStage)
	assert.Equal(t, 2, again.TotalCandidates)
	require.Len(t, again.SortedResults, 1)
	assert.Equal(t, model.TierHighMatch, again.SortedResults[0].MatchTier)
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	assert.True(t, errors.IsNotFoundError(err))

	err = s.UpdateJob(context.Background(), &model.Job{ID: "missing"})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListJobs_ByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestJob(t, s)
	newTestJob(t, s)

	jobs, err := s.ListJobs(ctx, "recruiter-yugi", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.ListJobs(ctx, "recruiter-kaiba", 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = s.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestStageAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(t, s)

	n, err := s.IncrementStageAttempt(ctx, job.ID, model.StageScoring)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncrementStageAttempt(ctx, job.ID, model.StageScoring)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.StageAttempts.Get(model.StageScoring))
	assert.Equal(t, 0, got.StageAttempts.Get(model.StageTextExtraction))
	assert.Equal(t, 2, got.TotalAttempts)

	require.NoError(t, s.ResetStageAttempt(ctx, job.ID, model.StageScoring))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.StageAttempts.Get(model.StageScoring))
	assert.Equal(t, 2, got.TotalAttempts, "total is a lifetime counter")
}

func TestClaimRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(t, s)

	t.Log("TAS Bot: a job that is not FAILED cannot be retried")
	_, claimed, err := s.ClaimRetry(ctx, job.ID, model.StageBulkExtraction, 2)
	require.NoError(t, err)
	assert.False(t, claimed)

	fail := func() {
		job.Stage = model.StageFailed
		job.LastProcessedStage = model.StageBulkExtraction
		require.NoError(t, s.UpdateJob(ctx, job))
	}

	for want := 1; want <= 2; want++ {
		fail()
		attempts, claimed, err := s.ClaimRetry(ctx, job.ID, model.StageBulkExtraction, 2)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, want, attempts)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StageBulkExtraction, got.Stage)
	}

	t.Log("TAS Bot: budget spent, the job stays FAILED")
	fail()
	attempts, claimed, err := s.ClaimRetry(ctx, job.ID, model.StageBulkExtraction, 2)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 2, attempts)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, got.Stage)
	assert.Equal(t, 2, got.TotalAttempts)
}

func TestProgressAndReviewedAreNotClobbered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(t, s)

	require.NoError(t, s.SetProgress(ctx, job.ID, 72.5))
	require.NoError(t, s.IncrementReviewed(ctx, job.ID))
	require.NoError(t, s.IncrementReviewed(ctx, job.ID))

	// job still holds the stale zero values
	job.Stage = model.StageScoring
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 72.5, got.ProcessingPercentage, 0.001)
	assert.Equal(t, 2, got.ReviewedCount)
}

func TestJobLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(t, s)

	require.NoError(t, s.AppendJobLog(ctx, job.ID, "info", "Structure discovery started"))
	require.NoError(t, s.AppendJobLog(ctx, job.ID, "error", "Sheet unreachable"))

	logs, err := s.ListJobLogs(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Structure discovery started", logs[0].Message)
	assert.Equal(t, "error", logs[1].Level)

	logs, err = s.ListJobLogs(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got.Logs, 2)
}

func TestRawDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(t, s)

	_, err := s.GetRawDocument(ctx, job.ID)
	assert.True(t, errors.IsNotFoundError(err))

	doc := &model.RawIngestDocument{
		JobID:   job.ID,
		Status:  model.RawParsing,
		Headers: []string{"Name", "Email", "CV"},
		Entries: []*model.Fields{
			model.FieldsFromPairs([]string{"Name", "Email", "CV"}, []string{"Yugi", "yugi@duel.gg", "none"}),
		},
		TotalRows: 1,
	}
	require.NoError(t, s.SaveRawDocument(ctx, doc))

	doc.Status = model.RawCompleted
	doc.FieldMapping = &model.FieldMapping{NameField: "Name", EmailField: "Email", ResumeURLField: "CV"}
	require.NoError(t, s.SaveRawDocument(ctx, doc))
	require.NoError(t, s.AppendRawLog(ctx, job.ID, 0, "Candidate created"))

	got, err := s.GetRawDocument(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RawCompleted, got.Status)
	assert.Equal(t, []string{"Name", "Email", "CV"}, got.Headers)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, []string{"Name", "Email", "CV"}, got.Entries[0].Keys())
	assert.Equal(t, "yugi@duel.gg", got.Entries[0].Value("Email"))
	require.NotNil(t, got.FieldMapping)
	assert.Equal(t, "CV", got.FieldMapping.ResumeURLField)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "Candidate created", got.Logs[0].Message)
}

func newTestCandidate(jobID, email string, row int) *model.Candidate {
	dyn := model.NewFields()
	dyn.Set("Deck", "Dark Magician")
	dyn.Set("Rank", "King of Games")
	return &model.Candidate{
		ID:            uuid.New().String(),
		JobID:         jobID,
		Name:          "Yugi Muto",
		Email:         email,
		ResumeURL:     "https://drive.google.com/file/d/abc123/view",
		RowIndex:      row,
		DynamicFields: dyn,
	}
}

func TestCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(t, s)

	c := newTestCandidate(job.ID, "yugi@duel.gg", 0)
	require.NoError(t, s.CreateCandidate(ctx, c))

	t.Log("Yugi: the same email cannot join the same job twice")
	dup := newTestCandidate(job.ID, "yugi@duel.gg", 1)
	err := s.CreateCandidate(ctx, dup)
	assert.True(t, errors.IsConflictError(err))

	exists, err := s.CandidateExists(ctx, job.ID, "yugi@duel.gg")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.CandidateExists(ctx, job.ID, "joey@duel.gg")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.CandidateWithResumeURL(ctx, job.ID, c.ResumeURL)
	require.NoError(t, err)
	assert.True(t, exists)

	second := newTestCandidate(job.ID, "joey@duel.gg", 1)
	second.ResumeURL = ""
	require.NoError(t, s.CreateCandidate(ctx, second))
	assert.Equal(t, model.NoResume, second.ResumeURL)

	n, err := s.CountCandidates(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.ListCandidates(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "yugi@duel.gg", list[0].Email)
	assert.Nil(t, list[0].MatchScore)
	assert.Equal(t, []string{"Deck", "Rank"}, list[0].DynamicFields.Keys())

	score := 91
	c.ResumeText = "Won Duelist Kingdom"
	c.IsTextExtracted = true
	c.IsScored = true
	c.MatchScore = &score
	c.MatchTier = model.TierHighMatch
	c.Questions = []string{"Favourite card?"}
	require.NoError(t, s.UpdateCandidate(ctx, c))

	got, err := s.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsScored)
	require.NotNil(t, got.MatchScore)
	assert.Equal(t, 91, *got.MatchScore)
	assert.Equal(t, []string{"Favourite card?"}, got.Questions)
	assert.Equal(t, "Dark Magician", got.DynamicFields.Value("Deck"))
}

func TestDeleteJobCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(t, s)

	require.NoError(t, s.CreateCandidate(ctx, newTestCandidate(job.ID, "yugi@duel.gg", 0)))
	require.NoError(t, s.SaveRawDocument(ctx, &model.RawIngestDocument{JobID: job.ID}))
	require.NoError(t, s.AppendJobLog(ctx, job.ID, "info", "hello"))

	require.NoError(t, s.DeleteJob(ctx, job.ID))

	n, err := s.CountCandidates(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = s.GetRawDocument(ctx, job.ID)
	assert.True(t, errors.IsNotFoundError(err))

	assert.True(t, errors.IsNotFoundError(s.DeleteJob(ctx, job.ID)))
}

func TestStoreErrorsCarryJobDetail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs SET reviewed_count").
		WithArgs("job-42").
		WillReturnError(errors.New("disk I/O error"))

	s := New(db)
	err = s.IncrementReviewed(context.Background(), "job-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to increment reviewed count")
	assert.Contains(t, errors.GetAllDetails(err), "Job ID: job-42")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRetryRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT attempts FROM job_stage_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(0))
	mock.ExpectExec("UPDATE jobs SET stage").
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	s := New(db)
	_, claimed, err := s.ClaimRetry(context.Background(), "job-42", model.StageScoring, 3)
	require.Error(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

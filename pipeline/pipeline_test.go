package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/extract"
	"github.com/teranos/intake/fieldmap"
	"github.com/teranos/intake/internal/httpclient"
	qtest "github.com/teranos/intake/internal/testing"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/normalize"
	"github.com/teranos/intake/pulse"
	"github.com/teranos/intake/pulse/async"
	"github.com/teranos/intake/pulse/budget"
	"github.com/teranos/intake/scoring"
	"github.com/teranos/intake/sources"
	"github.com/teranos/intake/store"
)

// recorder keeps every published event
type recorder struct {
	mu     sync.Mutex
	events []pulse.Event
}

func (r *recorder) Publish(ownerID string, e pulse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []pulse.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pulse.Event(nil), r.events...)
}

// brokenFetcher fails every read
type brokenFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *brokenFetcher) FetchSample(ctx context.Context, ref sources.Ref, n int) (*sources.Table, error) {
	return f.fail()
}

func (f *brokenFetcher) FetchAll(ctx context.Context, ref sources.Ref, onPage func(sources.Page)) (*sources.Table, error) {
	return f.fail()
}

func (f *brokenFetcher) fail() (*sources.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, errors.New("report endpoint returned 503")
}

func (f *brokenFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	db     *sql.DB
	store  *store.SQLStore
	queue  *async.Queue
	orch   *Orchestrator
	svc    *Service
	events *recorder
}

func newHarness(t *testing.T, registry sources.Registry, scoringOracle ai.Oracle, backends ...extract.Backend) *harness {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	db := qtest.CreateTestDB(t)
	s := store.New(db)
	queue := async.NewQueue(db)
	rec := &recorder{}

	stages := Stages{
		Sources:            registry,
		Mapper:             fieldmap.New(nil, nil, fieldmap.DefaultConfig(), log),
		Normalizer:         normalize.New(s, normalize.DefaultProgressEvery, log),
		Extractor:          extract.New(extract.NewCommandOracle(am.ExtractionConfig{MinTextLength: 50}, log), 50, log, backends...),
		ExtractConcurrency: 2,
		Scorer:             scoring.New(scoringOracle, nil, &budget.Throttle{Gate: budget.NewConcurrencyGate(2)}, 3, 50, log),
		BatchSize:          5,
	}
	orch := NewOrchestrator(s, queue, stages, NewTracker(s, rec, log), 0, log)
	return &harness{
		db:     db,
		store:  s,
		queue:  queue,
		orch:   orch,
		svc:    NewService(s, orch, queue, model.DefaultMaxRetries, log),
		events: rec,
	}
}

// drain runs due tasks until the queue is empty, the way a single worker would
func (h *harness) drain(t *testing.T) int {
	t.Helper()
	handler := h.orch.Handler()
	ran := 0
	for i := 0; i < 100; i++ {
		task, err := h.queue.Dequeue()
		require.NoError(t, err)
		if task == nil {
			return ran
		}
		ran++
		if err := handler.Execute(context.Background(), task); err != nil {
			require.NoError(t, h.queue.FailTask(task.ID, err))
			continue
		}
		require.NoError(t, h.queue.CompleteTask(task.ID))
	}
	t.Fatal("queue never drained")
	return ran
}

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "applicants.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func resumeServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".txt")
		fmt.Fprintf(w, "%s. Ten years defending Dreamland, inhaling enemies and copying their abilities.", name)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func scoreByName(ctx context.Context, prompt string) (string, error) {
	score := 45
	if strings.Contains(prompt, "kirby.") {
		score = 92
	}
	return fmt.Sprintf(`{"matchLevel": "x", "matchScore": %d, "reviewComment": "ok", "questions": [], "importantQuestions": []}`, score), nil
}

func TestEndToEndTabularFile(t *testing.T) {
	srv := resumeServer(t)
	path := writeCSV(t,
		"Name,Email,Resume,Years",
		"Kirby,KIRBY@dreamland.test,"+srv.URL+"/kirby.txt,5",
		",,,",
		"Meta Knight,,"+srv.URL+"/metaknight.txt,9",
	)

	h := newHarness(t,
		sources.Registry{model.SourceTabularFile: sources.NewTabularFetcher(5, nil)},
		ai.OracleFunc(scoreByName),
		extract.NewHTTPBackendWithClient(httpclient.WrapClient(srv.Client())),
	)
	ctx := context.Background()

	jobID, err := h.svc.SubmitJob(ctx, SubmitRequest{
		OwnerID:    "recruiter-kirby",
		Title:      "Star Warrior",
		SourceType: "tabular_file",
		SourceRef:  path,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, h.drain(t))

	job, err := h.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, job.Stage)
	assert.Equal(t, 100.0, job.ProcessingPercentage)
	assert.Equal(t, 2, job.TotalCandidates)
	assert.Equal(t, 2, job.ReviewedCount)

	candidates, err := h.svc.ListCandidates(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "kirby@dreamland.test", candidates[0].Email)
	assert.True(t, normalize.IsSynthetic(candidates[1].Email))

	require.Len(t, job.SortedResults, 2)
	assert.Equal(t, candidates[0].ID, job.SortedResults[0].CandidateID)
	assert.Equal(t, model.TierHighMatch, job.SortedResults[0].MatchTier)
	assert.Equal(t, model.TierLowMatch, job.SortedResults[1].MatchTier)

	// progress never goes backwards and ends exactly at 100
	events := h.events.all()
	require.NotEmpty(t, events)
	prev := 0.0
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Percentage, prev, "%s/%s", e.Step, e.SubStep)
		prev = e.Percentage
	}
	var last pulse.Event
	for _, e := range events {
		if e.SubStep == pulse.SubStepComplete {
			last = e
		}
	}
	assert.Equal(t, model.StageScoring.String(), last.Step)
	assert.Equal(t, 100.0, last.Percentage)
}

func TestStagesStartAfterPreviousComplete(t *testing.T) {
	path := writeCSV(t, "Name,Email", "Kirby,kirby@dreamland.test")
	h := newHarness(t, sources.Registry{model.SourceTabularFile: sources.NewTabularFetcher(5, nil)}, nil)

	_, err := h.svc.SubmitJob(context.Background(), SubmitRequest{
		OwnerID: "recruiter-kirby", Title: "Star Warrior", SourceType: model.SourceTabularFile, SourceRef: path,
	})
	require.NoError(t, err)
	h.drain(t)

	var order []string
	for _, e := range h.events.all() {
		if e.SubStep == pulse.SubStepStart || e.SubStep == pulse.SubStepComplete {
			order = append(order, e.Step+"/"+e.SubStep)
		}
	}
	var want []string
	for s := model.StageStructureDiscovery; s.IsWork(); s = s.Next() {
		want = append(want, s.String()+"/"+pulse.SubStepStart, s.String()+"/"+pulse.SubStepComplete)
	}
	assert.Equal(t, want, order)
}

func TestRetryIsBounded(t *testing.T) {
	fetcher := &brokenFetcher{}
	h := newHarness(t, sources.Registry{model.SourceHRReport: fetcher}, nil)
	ctx := context.Background()

	retries := 2
	jobID, err := h.svc.SubmitJob(ctx, SubmitRequest{
		OwnerID:    "recruiter-cronos",
		Title:      "Engineer",
		SourceType: model.SourceHRReport,
		SourceRef:  "https://hr.example.com/report",
		MaxRetries: &retries,
	})
	require.NoError(t, err)
	h.drain(t)

	job, err := h.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, job.Stage)
	assert.Equal(t, model.StageStructureDiscovery, job.LastProcessedStage)
	assert.Equal(t, 2, job.StageAttempts.Get(model.StageStructureDiscovery))
	assert.Equal(t, 3, fetcher.count(), "first run plus two retries")

	logs, err := h.svc.JobLogs(ctx, jobID, 50)
	require.NoError(t, err)
	var gaveUp bool
	for _, l := range logs {
		if strings.Contains(l.Message, "Giving up on STRUCTURE_DISCOVERY") {
			gaveUp = true
		}
	}
	assert.True(t, gaveUp)

	// a manual retry resets the stage budget
	require.NoError(t, h.svc.RetryJob(ctx, jobID))
	h.drain(t)
	assert.Equal(t, 5, fetcher.count())

	job, err = h.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, job.Stage)
}

func TestFailedHandOverLeavesJobRetryable(t *testing.T) {
	path := writeCSV(t, "Name,Email", "Kirby,kirby@dreamland.test")
	h := newHarness(t, sources.Registry{model.SourceTabularFile: sources.NewTabularFetcher(5, nil)}, nil)
	ctx := context.Background()

	jobID, err := h.svc.SubmitJob(ctx, SubmitRequest{
		OwnerID: "recruiter-kirby", Title: "Star Warrior", SourceType: model.SourceTabularFile, SourceRef: path,
	})
	require.NoError(t, err)

	task, err := h.queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, task)

	// the queue is unavailable when the first stage tries to enqueue the next
	_, err = h.db.Exec(`ALTER TABLE pulse_tasks RENAME TO pulse_tasks_offline`)
	require.NoError(t, err)
	require.Error(t, h.orch.Handler().Execute(ctx, task))

	job, err := h.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, job.Stage)
	assert.Equal(t, model.StageBulkExtraction, job.LastProcessedStage)

	_, err = h.db.Exec(`ALTER TABLE pulse_tasks_offline RENAME TO pulse_tasks`)
	require.NoError(t, err)
	require.NoError(t, h.queue.CompleteTask(task.ID))

	require.NoError(t, h.svc.RetryJob(ctx, jobID))
	h.drain(t)

	job, err = h.svc.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, job.Stage)
	assert.Equal(t, 1, job.TotalCandidates)
}

func TestFinishedJobsReleaseState(t *testing.T) {
	remembered := func(h *harness, jobID string) bool {
		h.orch.tracker.mu.Lock()
		defer h.orch.tracker.mu.Unlock()
		_, ok := h.orch.tracker.last[jobID]
		return ok
	}
	locked := func(h *harness) int {
		h.orch.locksMu.Lock()
		defer h.orch.locksMu.Unlock()
		return len(h.orch.locks)
	}

	t.Run("retry budget spent", func(t *testing.T) {
		h := newHarness(t, sources.Registry{model.SourceHRReport: &brokenFetcher{}}, nil)
		one := 1
		jobID, err := h.svc.SubmitJob(context.Background(), SubmitRequest{
			OwnerID: "recruiter-cronos", Title: "Engineer", SourceType: model.SourceHRReport,
			SourceRef: "https://hr.example.com/report", MaxRetries: &one,
		})
		require.NoError(t, err)
		h.drain(t)

		job, err := h.svc.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		require.Equal(t, model.StageFailed, job.Stage)
		assert.False(t, remembered(h, jobID))
		assert.Zero(t, locked(h))
	})

	t.Run("completed", func(t *testing.T) {
		path := writeCSV(t, "Name,Email", "Kirby,kirby@dreamland.test")
		h := newHarness(t, sources.Registry{model.SourceTabularFile: sources.NewTabularFetcher(5, nil)}, nil)
		jobID, err := h.svc.SubmitJob(context.Background(), SubmitRequest{
			OwnerID: "recruiter-kirby", Title: "Star Warrior", SourceType: model.SourceTabularFile, SourceRef: path,
		})
		require.NoError(t, err)
		h.drain(t)

		assert.False(t, remembered(h, jobID))
		assert.Zero(t, locked(h))
	})
}

func TestZeroRetriesFailsOnce(t *testing.T) {
	fetcher := &brokenFetcher{}
	h := newHarness(t, sources.Registry{model.SourceHRReport: fetcher}, nil)
	ctx := context.Background()

	zero := 0
	jobID, err := h.svc.SubmitJob(ctx, SubmitRequest{
		OwnerID: "recruiter-cronos", Title: "Engineer", SourceType: model.SourceHRReport,
		SourceRef: "https://hr.example.com/report", MaxRetries: &zero,
	})
	require.NoError(t, err)
	h.drain(t)
	assert.Equal(t, 1, fetcher.count())

	err = h.svc.RetryJob(ctx, jobID)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestRetryJobRejectsRunningJob(t *testing.T) {
	h := newHarness(t, sources.Registry{}, nil)
	ctx := context.Background()

	jobID, err := h.svc.SubmitJob(ctx, SubmitRequest{
		OwnerID: "recruiter-yugi", Title: "Duelist", SourceType: model.SourceTabularFile, SourceRef: "deck.csv",
	})
	require.NoError(t, err)

	err = h.svc.RetryJob(ctx, jobID)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestSubmitJobValidates(t *testing.T) {
	h := newHarness(t, sources.Registry{}, nil)

	_, err := h.svc.SubmitJob(context.Background(), SubmitRequest{OwnerID: "recruiter-yugi", SourceType: "CARRIER_PIGEON", SourceRef: "x"})
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = h.svc.SubmitJob(context.Background(), SubmitRequest{OwnerID: "recruiter-yugi", SourceType: model.SourceSpreadsheet})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestStaleTaskIsSkipped(t *testing.T) {
	fetcher := &brokenFetcher{}
	h := newHarness(t, sources.Registry{model.SourceHRReport: fetcher}, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &model.Job{
		ID:         uuid.NewString(),
		OwnerID:    "recruiter-cronos",
		Title:      "Engineer",
		SourceType: model.SourceHRReport,
		SourceRef:  "https://hr.example.com/report",
		Stage:      model.StageCreated,
		MaxRetries: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, h.store.CreateJob(ctx, job))
	require.NoError(t, h.orch.Schedule(job.ID, model.StageScoring, 0))

	assert.Equal(t, 1, h.drain(t))
	assert.Zero(t, fetcher.count())

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCreated, got.Stage)
}

func TestTaskForDeletedJobIsDropped(t *testing.T) {
	h := newHarness(t, sources.Registry{}, nil)
	require.NoError(t, h.orch.Schedule(uuid.NewString(), model.StageStructureDiscovery, 0))

	task, err := h.queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.NoError(t, h.orch.Handler().Execute(context.Background(), task))
}

func TestDeleteJob(t *testing.T) {
	h := newHarness(t, sources.Registry{}, nil)
	ctx := context.Background()

	jobID, err := h.svc.SubmitJob(ctx, SubmitRequest{
		OwnerID: "recruiter-yugi", Title: "Duelist", SourceType: model.SourceTabularFile, SourceRef: "deck.csv",
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteJob(ctx, jobID))

	_, err = h.svc.GetJob(ctx, jobID)
	assert.True(t, errors.IsNotFoundError(err))

	tasks, err := h.queue.ListTasksForJob(jobID)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.Equal(t, async.TaskStatusCancelled, task.Status)
	}
	assert.Zero(t, h.drain(t))

	assert.True(t, errors.IsNotFoundError(h.svc.DeleteJob(ctx, jobID)))
}

func TestTrackerIsMonotone(t *testing.T) {
	db := qtest.CreateTestDB(t)
	s := store.New(db)
	rec := &recorder{}
	tr := NewTracker(s, rec, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &model.Job{ID: uuid.NewString(), OwnerID: "recruiter-kirby", SourceType: model.SourceTabularFile, SourceRef: "x.csv", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateJob(ctx, job))

	tr.Start(ctx, job, model.StageStructureDiscovery)
	assert.Equal(t, 0.0, tr.Percentage(job.ID))

	tr.Progress(ctx, job, model.StageStructureDiscovery, 10, 10)
	assert.Less(t, tr.Percentage(job.ID), 5.0)

	tr.Complete(ctx, job, model.StageStructureDiscovery)
	assert.Equal(t, 5.0, tr.Percentage(job.ID))

	tr.Progress(ctx, job, model.StageTextExtraction, 1, 2)
	assert.Equal(t, 47.5, tr.Percentage(job.ID))

	// an earlier stage cannot pull the percentage back
	tr.Progress(ctx, job, model.StageCandidateSeparation, 1, 2)
	assert.Equal(t, 47.5, tr.Percentage(job.ID))

	tr.Complete(ctx, job, model.StageScoring)
	assert.Equal(t, 100.0, tr.Percentage(job.ID))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.ProcessingPercentage)

	tr.Forget(job.ID)
	assert.Zero(t, tr.Percentage(job.ID))
}

func TestOngoingStaysInsideStage(t *testing.T) {
	s := store.New(qtest.CreateTestDB(t))
	tr := NewTracker(s, nil, nil)
	ctx := context.Background()
	job := &model.Job{ID: uuid.NewString(), OwnerID: "recruiter-kirby"}

	for done := 5; done <= 500; done += 5 {
		tr.Ongoing(ctx, job, model.StageBulkExtraction, done, 20)
		pct := tr.Percentage(job.ID)
		assert.GreaterOrEqual(t, pct, 5.0)
		assert.Less(t, pct, 15.0)
	}
}

func TestWeights(t *testing.T) {
	prevHi := 0.0
	for s := model.StageStructureDiscovery; s.IsWork(); s = s.Next() {
		lo, hi := Weight(s)
		assert.Equal(t, prevHi, lo, s.String())
		assert.Greater(t, hi, lo)
		prevHi = hi
	}
	assert.Equal(t, 100.0, prevHi)
}

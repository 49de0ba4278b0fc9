package pipeline

import (
	"context"
	"sync"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/extract"
	"github.com/teranos/intake/fieldmap"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/normalize"
	"github.com/teranos/intake/pulse"
	"github.com/teranos/intake/scoring"
	"github.com/teranos/intake/sources"
)

// Stages holds what the five stages need
type Stages struct {
	Sources            sources.Registry
	Mapper             *fieldmap.Mapper
	Normalizer         *normalize.Normalizer
	Extractor          *extract.Extractor
	ExtractConcurrency int
	Scorer             *scoring.Scorer
	BatchSize          int
}

// stageFunc runs one stage for job; a returned error fails the stage
type stageFunc func(ctx context.Context, job *model.Job) error

func (o *Orchestrator) stageFunc(stage model.Stage) (stageFunc, error) {
	switch stage {
	case model.StageStructureDiscovery:
		return o.discoverStructure, nil
	case model.StageBulkExtraction:
		return o.bulkExtract, nil
	case model.StageCandidateSeparation:
		return o.separateCandidates, nil
	case model.StageTextExtraction:
		return o.extractText, nil
	case model.StageScoring:
		return o.scoreCandidates, nil
	}
	return nil, errors.AssertionFailedf("stage %s has no work", stage)
}

// pagedSource reports whether a source is read in batches during bulk
// extraction; the others are read whole during structure discovery
func pagedSource(t model.SourceType) bool {
	return t == model.SourceSpreadsheet
}

func (o *Orchestrator) discoverStructure(ctx context.Context, job *model.Job) error {
	stage := model.StageStructureDiscovery
	o.tracker.Start(ctx, job, stage)

	fetcher, err := o.stages.Sources.For(job.SourceType)
	if err != nil {
		return err
	}
	ref := sources.RefFor(job)

	var table *sources.Table
	if pagedSource(job.SourceType) {
		table, err = fetcher.FetchSample(ctx, ref, o.stages.Mapper.SampleSize())
	} else {
		table, err = fetcher.FetchAll(ctx, ref, nil)
	}
	if err != nil {
		return errors.Wrap(err, "failed to read source")
	}
	if len(table.Headers) == 0 {
		return errors.New("source has no header row")
	}
	o.tracker.Log(ctx, job, pulse.LevelInfo, "Found %d columns", len(table.Headers))

	res, err := o.stages.Mapper.Infer(ctx, table.Headers, table.Rows)
	if err != nil {
		return err
	}
	if res.Heuristic {
		o.tracker.Log(ctx, job, pulse.LevelWarn, "Field mapping fell back to header matching after %d attempts", res.Attempts)
	}
	o.tracker.Log(ctx, job, pulse.LevelInfo, "Mapped name=%q email=%q resume=%q",
		res.Mapping.NameField, res.Mapping.EmailField, res.Mapping.ResumeURLField)

	mapping := res.Mapping
	doc := &model.RawIngestDocument{
		JobID:        job.ID,
		Status:       model.RawPending,
		Headers:      table.Headers,
		FieldMapping: &mapping,
		SheetTitle:   table.SheetTitle,
		RangeUsed:    table.RangeUsed,
	}
	if !pagedSource(job.SourceType) {
		doc.Status = model.RawProcessing
		doc.Entries = table.Rows
		doc.TotalRows = len(table.Rows)
		o.tracker.Log(ctx, job, pulse.LevelInfo, "Read %d rows", len(table.Rows))
	}
	if err := o.store.SaveRawDocument(ctx, doc); err != nil {
		return err
	}

	o.tracker.Complete(ctx, job, stage)
	return nil
}

func (o *Orchestrator) bulkExtract(ctx context.Context, job *model.Job) error {
	stage := model.StageBulkExtraction
	o.tracker.Start(ctx, job, stage)
	if !pagedSource(job.SourceType) {
		o.tracker.Complete(ctx, job, stage)
		return nil
	}

	doc, err := o.store.GetRawDocument(ctx, job.ID)
	if err != nil {
		return errors.Wrap(err, "structure discovery has not run")
	}
	fetcher, err := o.stages.Sources.For(job.SourceType)
	if err != nil {
		return err
	}

	doc.Status = model.RawFetching
	if err := o.store.SaveRawDocument(ctx, doc); err != nil {
		return err
	}

	fetched := 0
	table, err := fetcher.FetchAll(ctx, sources.RefFor(job), func(p sources.Page) {
		fetched += len(p.Rows)
		o.tracker.Log(ctx, job, pulse.LevelInfo, "Fetched rows %d to %d", p.Start, p.End)
		o.tracker.Ongoing(ctx, job, stage, fetched, o.batchSize()*4)
	})
	if err != nil {
		doc.Status = model.RawFailed
		if saveErr := o.store.SaveRawDocument(ctx, doc); saveErr != nil {
			o.logger.Warnw("Failed to mark raw document failed", "job_id", job.ID, "error", saveErr)
		}
		return errors.Wrap(err, "failed to fetch rows")
	}

	if doc.FieldMapping != nil {
		m := fieldmap.Sanitize(*doc.FieldMapping, table.Headers)
		doc.FieldMapping = &m
	}
	doc.Headers = table.Headers
	doc.Entries = table.Rows
	doc.TotalRows = len(table.Rows)
	doc.SheetTitle = table.SheetTitle
	doc.RangeUsed = table.RangeUsed
	doc.Status = model.RawProcessing
	if err := o.store.SaveRawDocument(ctx, doc); err != nil {
		return err
	}
	o.tracker.Log(ctx, job, pulse.LevelInfo, "Fetched %d rows from %s", len(table.Rows), table.RangeUsed)

	o.tracker.Complete(ctx, job, stage)
	return nil
}

func (o *Orchestrator) separateCandidates(ctx context.Context, job *model.Job) error {
	stage := model.StageCandidateSeparation
	o.tracker.Start(ctx, job, stage)

	res, err := o.stages.Normalizer.Separate(ctx, job, func(current, total int) {
		o.tracker.Progress(ctx, job, stage, current, total)
	})
	if err != nil {
		return err
	}

	total, err := o.store.CountCandidates(ctx, job.ID)
	if err != nil {
		return err
	}
	job.TotalCandidates = total
	o.tracker.Log(ctx, job, pulse.LevelInfo, "Separated %d candidates (%d new, %d skipped)", total, res.Created, res.Skipped)

	o.tracker.Complete(ctx, job, stage)
	return nil
}

func (o *Orchestrator) extractText(ctx context.Context, job *model.Job) error {
	stage := model.StageTextExtraction
	o.tracker.Start(ctx, job, stage)

	sum, err := o.stages.Extractor.ExtractAll(ctx, o.store, job.ID, o.stages.ExtractConcurrency, o.serialProgress(ctx, job, stage))
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		o.tracker.Log(ctx, job, pulse.LevelWarn, "Could not read %d of %d resumes", sum.Failed, sum.Total)
	}
	o.tracker.Log(ctx, job, pulse.LevelInfo, "Extracted text for %d candidates", sum.Extracted)

	o.tracker.Complete(ctx, job, stage)
	return nil
}

func (o *Orchestrator) scoreCandidates(ctx context.Context, job *model.Job) error {
	stage := model.StageScoring
	o.tracker.Start(ctx, job, stage)

	sum, err := o.stages.Scorer.ScoreAll(ctx, o.store, job, o.serialProgress(ctx, job, stage))
	if err != nil {
		return err
	}
	job.SortedResults = sum.SortedResults
	if sum.Failed > 0 {
		o.tracker.Log(ctx, job, pulse.LevelWarn, "Scoring failed for %d candidates", sum.Failed)
	}
	o.tracker.Log(ctx, job, pulse.LevelInfo, "Scoring complete: %d scored, %d failed", sum.Scored, sum.Failed)

	o.tracker.Complete(ctx, job, stage)
	return nil
}

// serialProgress funnels progress from concurrent workers through one lock so
// the shared job record is updated by one goroutine at a time
func (o *Orchestrator) serialProgress(ctx context.Context, job *model.Job, stage model.Stage) func(done, total int) {
	var mu sync.Mutex
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		o.tracker.Progress(ctx, job, stage, done, total)
	}
}

func (o *Orchestrator) batchSize() int {
	if o.stages.BatchSize > 0 {
		return o.stages.BatchSize
	}
	return sources.DefaultBatchSize
}

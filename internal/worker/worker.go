// Package worker fans the inbound directory out over a pool of file
// workers. Each file is independent: one bad file never stops the rest
// of the run.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cmgoffena13/etl-file-loader/internal/config"
	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/notify"
	"github.com/cmgoffena13/etl-file-loader/internal/pipeline"
	"github.com/cmgoffena13/etl-file-loader/internal/retry"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
	"github.com/cmgoffena13/etl-file-loader/internal/storage"
)

// Summary aggregates one run over the inbound directory.
type Summary struct {
	RunID     string
	Processed int
	Succeeded int
	Handled   int
	Skipped   int
	NoSource  int
	Failed    int
	Failures  []pipeline.Outcome
}

// OK reports whether the run finished without unhandled failures.
func (s Summary) OK() bool { return s.Failed == 0 }

// SummaryNotifier receives the end-of-run webhook message.
type SummaryNotifier interface {
	Notify(ctx context.Context, level notify.AlertLevel, title, text string, details map[string]any) error
}

// Processor runs every inbound file through the pipeline.
type Processor struct {
	pool     *sqlx.DB
	dialect  db.Dialect
	registry *sources.Registry
	store    storage.Store
	emailer  pipeline.Notifier
	webhook  SummaryNotifier
	retry    retry.Policy

	batchSize int
	bulkCopy  bool
	workers   int
	logger    *slog.Logger
}

type ProcessorConfig struct {
	Pool     *sqlx.DB
	Dialect  db.Dialect
	Registry *sources.Registry
	Store    storage.Store
	Emailer  pipeline.Notifier
	Webhook  SummaryNotifier
	Pipeline config.PipelineConfig
	Retry    config.RetryConfig
	BulkCopy bool
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Processor{
		pool:     cfg.Pool,
		dialect:  cfg.Dialect,
		registry: cfg.Registry,
		store:    cfg.Store,
		emailer:  cfg.Emailer,
		webhook:  cfg.Webhook,
		retry: retry.Policy{
			Attempts:     cfg.Retry.Attempts,
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
		},
		batchSize: cfg.Pipeline.BatchSize,
		bulkCopy:  cfg.BulkCopy,
		workers:   workers,
		logger:    slog.Default(),
	}
}

// Run lists the inbound directory and processes every file, then posts
// the run summary to the webhook.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	if err := p.ensureTables(ctx); err != nil {
		return Summary{}, err
	}

	files, err := p.store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list inbound files: %w", err)
	}
	if len(files) == 0 {
		p.logger.Info("no files to process")
		return Summary{}, nil
	}
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	logger.Info("starting run", "files", len(files), "workers", p.workers)
	started := time.Now()

	names := make(chan string)
	outcomes := make([]pipeline.Outcome, 0, len(files))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for filename := range names {
				outcome := p.processFile(ctx, filename)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}
		}()
	}
	for _, filename := range files {
		names <- filename
	}
	close(names)
	wg.Wait()

	summary := summarize(outcomes)
	summary.RunID = runID
	logger.Info("run complete",
		"duration_seconds", time.Since(started).Seconds(),
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"handled", summary.Handled,
		"skipped", summary.Skipped,
		"no_source", summary.NoSource,
		"failed", summary.Failed)

	p.postSummary(ctx, summary)
	return summary, nil
}

// RunFile processes a single named file instead of scanning the
// inbound directory.
func (p *Processor) RunFile(ctx context.Context, filename string) (Summary, error) {
	if err := p.ensureTables(ctx); err != nil {
		return Summary{}, err
	}
	runID := uuid.NewString()
	p.logger.Info("processing single file", "filename", filename, "run_id", runID)
	summary := summarize([]pipeline.Outcome{p.processFile(ctx, filename)})
	summary.RunID = runID
	p.postSummary(ctx, summary)
	return summary, nil
}

func (p *Processor) ensureTables(ctx context.Context) error {
	if err := db.EnsureControlTables(ctx, p.pool, p.dialect); err != nil {
		return err
	}
	for _, src := range p.registry.Sources() {
		if err := db.EnsureTargetTable(ctx, p.pool, p.dialect, src); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) processFile(ctx context.Context, filename string) pipeline.Outcome {
	src, err := p.registry.Resolve(filename)
	if err != nil {
		p.logger.Error("cannot resolve source for file", "filename", filename, "error", err)
		return pipeline.Outcome{Status: pipeline.StatusFailed, Filename: filename, ErrorDetail: err.Error()}
	}
	if src == nil {
		return p.archiveUnmatched(ctx, filename)
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Pool:      p.pool,
		Dialect:   p.dialect,
		Store:     p.store,
		Source:    src,
		Filename:  filename,
		BatchSize: p.batchSize,
		BulkCopy:  p.bulkCopy,
		Retry:     p.retry,
		Notifier:  p.emailer,
	})
	return runner.Run(ctx)
}

// archiveUnmatched closes out a file no source claims: archive it,
// record a lineage row, delete the inbound copy. Status NoSource keeps
// it visible in the summary without failing the run.
func (p *Processor) archiveUnmatched(ctx context.Context, filename string) pipeline.Outcome {
	p.logger.Warn("archiving file with no source configuration", "filename", filename)
	logs := db.NewLogStore(p.pool, p.dialect)
	logID, err := logs.Start(ctx, filename, p.store.FilePath(filename), time.Now().UTC())
	if err != nil {
		p.logger.Error("could not start load log", "filename", filename, "error", err)
		return pipeline.Outcome{Status: pipeline.StatusFailed, Filename: filename, ErrorDetail: err.Error()}
	}
	if err := p.store.CopyToArchive(ctx, filename); err != nil {
		p.logger.Error("could not archive file", "filename", filename, "error", err)
		return pipeline.Outcome{Status: pipeline.StatusFailed, Filename: filename, ErrorDetail: err.Error()}
	}
	if err := p.store.Delete(ctx, filename); err != nil {
		p.logger.Error("could not delete file", "filename", filename, "error", err)
	}
	record := db.LoadLog{
		ID:              logID,
		SourceFilename:  filename,
		FilePath:        p.store.FilePath(filename),
		StartedAt:       time.Now().UTC(),
		EndedAt:         sql.NullTime{Time: time.Now().UTC(), Valid: true},
		OutcomeCategory: sql.NullString{String: db.OutcomeNoSource, Valid: true},
		ErrorType:       sql.NullString{String: "no_source", Valid: true},
	}
	if err := logs.Update(ctx, &record); err != nil {
		p.logger.Error("could not close load log", "filename", filename, "error", err)
	}
	return pipeline.Outcome{Status: pipeline.StatusNoSource, Filename: filename}
}

func summarize(outcomes []pipeline.Outcome) Summary {
	s := Summary{Processed: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case pipeline.StatusSuccess:
			s.Succeeded++
		case pipeline.StatusHandled:
			s.Handled++
		case pipeline.StatusSkipped:
			s.Skipped++
		case pipeline.StatusNoSource:
			s.NoSource++
		default:
			s.Failed++
			s.Failures = append(s.Failures, o)
		}
	}
	return s
}

// postSummary reports runs that need eyes: unhandled failures or files
// no source claims. Clean runs stay quiet.
func (p *Processor) postSummary(ctx context.Context, s Summary) {
	if p.webhook == nil {
		return
	}
	if s.Failed == 0 && s.NoSource == 0 {
		return
	}
	level := notify.LevelWarning
	if s.Failed > 0 {
		level = notify.LevelError
	}
	details := map[string]any{
		"run_id":    s.RunID,
		"processed": s.Processed,
		"succeeded": s.Succeeded,
		"handled":   s.Handled,
		"skipped":   s.Skipped,
		"no_source": s.NoSource,
		"failed":    s.Failed,
	}
	text := fmt.Sprintf("%d files processed: %d succeeded, %d handled, %d skipped, %d without source, %d failed",
		s.Processed, s.Succeeded, s.Handled, s.Skipped, s.NoSource, s.Failed)
	for _, f := range s.Failures {
		text += fmt.Sprintf("\n%s: %s", f.Filename, f.ErrorDetail)
	}
	if err := p.webhook.Notify(ctx, level, "FileLoader Run Summary", text, details); err != nil {
		p.logger.Error("could not post run summary", "error", err)
	}
}

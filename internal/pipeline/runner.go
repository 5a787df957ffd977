package pipeline

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/logging"
	"github.com/cmgoffena13/etl-file-loader/internal/reader"
	"github.com/cmgoffena13/etl-file-loader/internal/retry"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
	"github.com/cmgoffena13/etl-file-loader/internal/storage"
	"github.com/cmgoffena13/etl-file-loader/internal/validate"
)

// Status classifies how a file's attempt ended.
type Status int

const (
	// StatusSuccess: published into the target.
	StatusSuccess Status = iota
	// StatusHandled: a known failure, reported to the feed owner.
	StatusHandled
	// StatusSkipped: duplicate file, nothing to do.
	StatusSkipped
	// StatusNoSource: no source configuration claims the file.
	StatusNoSource
	// StatusFailed: needs an operator.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusHandled:
		return "handled"
	case StatusSkipped:
		return "skipped"
	case StatusNoSource:
		return "no_source"
	default:
		return "failed"
	}
}

// Outcome is what a file attempt reports back to the worker pool.
type Outcome struct {
	Status      Status
	Filename    string
	ErrorDetail string
}

// Notifier reports a known failure to the source's configured
// recipients. Returning an error downgrades the outcome to failed.
type Notifier interface {
	NotifyFileError(ctx context.Context, filename string, logID int64, ferr *fileerr.Error, recipients []string) error
}

// Runner processes one file through every phase. Each phase closes its
// own timing triple on the log row before the next phase starts, so a
// crash mid-file shows exactly how far the attempt got.
type Runner struct {
	pool      *sqlx.DB
	dialect   db.Dialect
	logs      *db.LogStore
	store     storage.Store
	src       *sources.Source
	filename  string
	batchSize int
	bulkCopy  bool
	retry     retry.Policy
	notifier  Notifier
	logger    *slog.Logger

	log        db.LoadLog
	stageTable string
	validator  *validate.Validator
}

type RunnerConfig struct {
	Pool      *sqlx.DB
	Dialect   db.Dialect
	Store     storage.Store
	Source    *sources.Source
	Filename  string
	BatchSize int
	BulkCopy  bool
	Retry     retry.Policy
	Notifier  Notifier
}

func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		pool:      cfg.Pool,
		dialect:   cfg.Dialect,
		logs:      db.NewLogStore(cfg.Pool, cfg.Dialect),
		store:     cfg.Store,
		src:       cfg.Source,
		filename:  cfg.Filename,
		batchSize: cfg.BatchSize,
		bulkCopy:  cfg.BulkCopy,
		retry:     cfg.Retry,
		notifier:  cfg.Notifier,
		logger:    slog.Default(),
	}
}

// Run executes the pipeline for the file. The inbound file is deleted
// on the way out regardless of outcome; the log row records what
// happened to it.
func (r *Runner) Run(ctx context.Context) Outcome {
	r.log = db.LoadLog{
		SourceFilename: r.filename,
		FilePath:       r.store.FilePath(r.filename),
		StartedAt:      time.Now().UTC(),
	}
	var err error
	r.log.ID, err = r.startLog(ctx)
	if err != nil {
		// Without a log row there is no lineage; leave the file in
		// place for the next run.
		r.logger.Error("could not start load log", "source_filename", r.filename, "error", err)
		return Outcome{Status: StatusFailed, Filename: r.filename, ErrorDetail: err.Error()}
	}
	r.logger = logging.ForFile(r.log.ID, r.filename)
	r.logger.Info("processing file")

	err = r.runPhases(ctx)
	outcome := r.close(ctx, err)

	if delErr := r.store.Delete(ctx, r.filename); delErr != nil {
		r.logger.Error("could not delete source file", "error", delErr)
	}
	if updErr := r.updateLog(ctx); updErr != nil {
		r.logger.Error("could not close load log", "error", updErr)
	}
	return outcome
}

func (r *Runner) runPhases(ctx context.Context) error {
	if err := r.checkIfProcessed(ctx); err != nil {
		return err
	}
	if err := r.archiveFile(ctx); err != nil {
		return err
	}
	if err := r.loadToStage(ctx); err != nil {
		return err
	}
	if err := r.auditStage(ctx); err != nil {
		return err
	}
	if err := r.publish(ctx); err != nil {
		return err
	}
	if err := r.cleanupDLQ(ctx); err != nil {
		return err
	}
	return r.dropStage(ctx)
}

func (r *Runner) checkIfProcessed(ctx context.Context) error {
	var dup bool
	err := r.retry.Do(ctx, "duplicate check", func() error {
		var checkErr error
		dup, checkErr = db.IsDuplicateFile(ctx, r.pool, r.src, r.filename)
		return checkErr
	})
	if err != nil {
		return err
	}
	if !dup {
		r.log.DuplicateSkipped = sql.NullBool{Bool: false, Valid: true}
		return r.updateLog(ctx)
	}

	r.logger.Warn("file has already been processed")
	if err := r.store.MoveToDuplicates(ctx, r.filename); err != nil {
		return err
	}
	r.log.DuplicateSkipped = sql.NullBool{Bool: true, Valid: true}
	if err := r.updateLog(ctx); err != nil {
		return err
	}
	return fileerr.New(fileerr.KindDuplicateFile, map[string]any{
		"source_filename": r.filename,
	})
}

func (r *Runner) archiveFile(ctx context.Context) error {
	r.log.ArchiveCopyStartedAt = nowNull()
	if err := r.retry.Do(ctx, "archive copy", func() error {
		return r.store.CopyToArchive(ctx, r.filename)
	}); err != nil {
		return err
	}
	r.log.ArchiveCopyEndedAt = nowNull()
	r.log.ArchiveCopySuccess = sql.NullBool{Bool: true, Valid: true}
	return r.updateLog(ctx)
}

// loadToStage streams the file through read, validate, and write as
// one pass, so memory stays bounded by the batch size.
func (r *Runner) loadToStage(ctx context.Context) error {
	var err error
	r.stageTable, err = db.CreateStageTable(ctx, r.pool, r.dialect, r.src, r.filename)
	if err != nil {
		return err
	}

	rd, err := reader.New(r.src, func(ctx context.Context) (io.ReadCloser, error) {
		return r.store.Open(ctx, r.filename)
	}, r.filename, r.batchSize)
	if err != nil {
		return err
	}
	r.validator = validate.NewValidator(r.src, r.filename, rd.StartingRowNumber(), r.log.ID)
	writer := NewStageWriter(r.pool, r.dialect, r.src, r.stageTable, r.log.ID, r.batchSize, r.bulkCopy, r.logger)

	r.log.ReadStartedAt = nowNull()
	r.log.ValidateStartedAt = r.log.ReadStartedAt
	r.log.WriteStartedAt = r.log.ReadStartedAt

	readErr := rd.Read(ctx, func(batch reader.Batch) error {
		return writer.Write(ctx, r.validator.ValidateBatch(batch))
	})

	r.log.RecordsRead = sql.NullInt64{Int64: rd.RowsRead(), Valid: true}
	r.log.ValidationErrors = sql.NullInt64{Int64: r.validator.ValidationErrorCount(), Valid: true}
	if readErr != nil {
		return readErr
	}
	r.log.ReadEndedAt = nowNull()
	r.log.ReadSuccess = sql.NullBool{Bool: true, Valid: true}

	if err := writer.Flush(ctx); err != nil {
		return err
	}
	r.log.RecordsWrittenToStage = sql.NullInt64{Int64: writer.RowsWritten(), Valid: true}

	if err := r.validator.CheckThreshold(); err != nil {
		return err
	}
	r.log.ValidateEndedAt = nowNull()
	r.log.ValidateSuccess = sql.NullBool{Bool: true, Valid: true}
	r.log.WriteEndedAt = nowNull()
	r.log.WriteSuccess = sql.NullBool{Bool: true, Valid: true}
	return r.updateLog(ctx)
}

func (r *Runner) auditStage(ctx context.Context) error {
	r.log.AuditStartedAt = nowNull()
	auditor := NewAuditor(r.pool, r.dialect, r.src, r.stageTable, r.filename, r.logger)
	if err := r.retry.Do(ctx, "audit grain", func() error {
		return auditor.AuditGrain(ctx)
	}); err != nil {
		return err
	}
	if err := r.retry.Do(ctx, "audit data", func() error {
		return auditor.AuditData(ctx)
	}); err != nil {
		return err
	}
	r.log.AuditEndedAt = nowNull()
	r.log.AuditSuccess = sql.NullBool{Bool: true, Valid: true}
	return r.updateLog(ctx)
}

func (r *Runner) publish(ctx context.Context) error {
	r.log.PublishStartedAt = nowNull()
	publisher := NewPublisher(r.pool, r.dialect, r.src, r.stageTable, r.log.RecordsWrittenToStage.Int64, r.logger)
	var inserts, updates int64
	if err := r.retry.Do(ctx, "publish", func() error {
		var pubErr error
		inserts, updates, pubErr = publisher.Publish(ctx)
		return pubErr
	}); err != nil {
		return err
	}
	r.log.PublishEndedAt = nowNull()
	r.log.PublishSuccess = sql.NullBool{Bool: true, Valid: true}
	r.log.PublishInserts = sql.NullInt64{Int64: inserts, Valid: true}
	r.log.PublishUpdates = sql.NullInt64{Int64: updates, Valid: true}
	return r.updateLog(ctx)
}

func (r *Runner) cleanupDLQ(ctx context.Context) error {
	cleaner := NewDLQCleaner(r.pool, r.dialect, r.filename, r.log.ID, r.batchSize, r.logger)
	return r.retry.Do(ctx, "dlq cleanup", func() error {
		return cleaner.Clean(ctx)
	})
}

func (r *Runner) dropStage(ctx context.Context) error {
	return r.retry.Do(ctx, "drop stage", func() error {
		return db.DropStageTable(ctx, r.pool, r.stageTable)
	})
}

// close settles the log row and outcome for however the phases ended.
// The stage table survives failures on purpose: it is the crime scene.
func (r *Runner) close(ctx context.Context, err error) Outcome {
	r.log.EndedAt = nowNull()
	if err == nil {
		r.log.Success = sql.NullBool{Bool: true, Valid: true}
		r.log.OutcomeCategory = sql.NullString{String: db.OutcomeSuccess, Valid: true}
		r.logger.Info("pipeline completed",
			"duration_seconds", time.Since(r.log.StartedAt).Seconds())
		return Outcome{Status: StatusSuccess, Filename: r.filename}
	}

	// The stage table is kept on failure for inspection, but only when
	// it holds rows. A failure before anything was staged leaves
	// nothing worth keeping.
	if r.stageTable != "" && r.log.RecordsWrittenToStage.Int64 == 0 {
		if dropErr := db.DropStageTable(ctx, r.pool, r.stageTable); dropErr != nil {
			r.logger.Error("could not drop empty stage table", "stage_table", r.stageTable, "error", dropErr)
		}
	}

	ferr, known := fileerr.As(err)
	if known && ferr.Kind == fileerr.KindDuplicateFile {
		// Success stays null: the file was neither loaded nor failed.
		r.log.ErrorType = sql.NullString{String: string(ferr.Kind), Valid: true}
		r.log.OutcomeCategory = sql.NullString{String: db.OutcomeDuplicate, Valid: true}
		r.notifyIfConfigured(ctx, ferr)
		return Outcome{Status: StatusSkipped, Filename: r.filename}
	}

	r.log.Success = sql.NullBool{Bool: false, Valid: true}
	if !known {
		r.log.ErrorType = sql.NullString{String: "UnexpectedError", Valid: true}
		r.log.OutcomeCategory = sql.NullString{String: db.OutcomeFailed, Valid: true}
		r.logger.Error("pipeline failed", "error", err)
		return Outcome{Status: StatusFailed, Filename: r.filename, ErrorDetail: err.Error()}
	}

	r.log.ErrorType = sql.NullString{String: string(ferr.Kind), Valid: true}
	if r.notifyIfConfigured(ctx, ferr) {
		r.log.OutcomeCategory = sql.NullString{String: db.OutcomeHandledFailure, Valid: true}
		return Outcome{Status: StatusHandled, Filename: r.filename}
	}
	r.log.OutcomeCategory = sql.NullString{String: db.OutcomeFailed, Valid: true}
	r.logger.Error("pipeline failed", "error_type", string(ferr.Kind), "error", err)
	return Outcome{Status: StatusFailed, Filename: r.filename, ErrorDetail: string(ferr.Kind)}
}

// notifyIfConfigured emails the feed owners about a known failure and
// reports whether the failure is now handled.
func (r *Runner) notifyIfConfigured(ctx context.Context, ferr *fileerr.Error) bool {
	if r.notifier == nil || len(r.src.NotificationEmails) == 0 {
		return false
	}
	if err := r.notifier.NotifyFileError(ctx, r.filename, r.log.ID, ferr, r.src.NotificationEmails); err != nil {
		r.logger.Error("could not send failure notification", "error", err)
		return false
	}
	return true
}

func (r *Runner) startLog(ctx context.Context) (int64, error) {
	var id int64
	err := r.retry.Do(ctx, "start log", func() error {
		var startErr error
		id, startErr = r.logs.Start(ctx, r.log.SourceFilename, r.log.FilePath, r.log.StartedAt)
		return startErr
	})
	return id, err
}

func (r *Runner) updateLog(ctx context.Context) error {
	return r.retry.Do(ctx, "update log", func() error {
		return r.logs.Update(ctx, &r.log)
	})
}

func nowNull() sql.NullTime {
	return sql.NullTime{Time: time.Now().UTC(), Valid: true}
}

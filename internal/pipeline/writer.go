// Package pipeline runs one file end to end: duplicate check, archive,
// read, validate, stage, audit, publish, DLQ cleanup.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
	"github.com/cmgoffena13/etl-file-loader/internal/validate"
)

const progressLogEvery = 100000

// StageWriter routes validated results: accepted rows to the staging
// table, rejected records to file_load_dlq. Both sides buffer up to
// the batch size so inserts stay bulk.
type StageWriter struct {
	pool       *sqlx.DB
	src        *sources.Source
	stageTable string
	logID      int64
	batchSize  int
	bulkCopy   bool
	logger     *slog.Logger

	cols        []string
	insertSQL   string
	acceptedMax int // rows per INSERT under the bind-parameter cap
	rejectedMax int
	accepted    []map[string]any
	rejected    []map[string]any
	rowsWritten int64
	dlqWritten  int64
}

const dlqInsertCols = 7

// NewStageWriter builds a writer for one stage table. bulkCopy opts
// into the SQL Server native bulk-load path for the accepted stream.
func NewStageWriter(pool *sqlx.DB, dialect db.Dialect, src *sources.Source, stageTable string, logID int64, batchSize int, bulkCopy bool, logger *slog.Logger) *StageWriter {
	cols := append([]string{}, src.Schema.Names()...)
	cols = append(cols, "etl_row_hash", "source_filename", "file_load_log_id")
	binds := make([]string, len(cols))
	for i, col := range cols {
		binds[i] = ":" + col
	}
	return &StageWriter{
		pool:        pool,
		src:         src,
		stageTable:  stageTable,
		logID:       logID,
		batchSize:   batchSize,
		bulkCopy:    bulkCopy,
		logger:      logger,
		cols:        cols,
		acceptedMax: max(dialect.BindParamLimit()/len(cols), 1),
		rejectedMax: max(dialect.BindParamLimit()/dlqInsertCols, 1),
		insertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			stageTable, strings.Join(cols, ", "), strings.Join(binds, ", ")),
		accepted: make([]map[string]any, 0, batchSize),
		rejected: make([]map[string]any, 0, batchSize),
	}
}

// Write buffers one batch of results, flushing each side as it fills.
func (w *StageWriter) Write(ctx context.Context, results []validate.Result) error {
	for _, res := range results {
		if res.OK {
			w.accepted = append(w.accepted, res.Row)
			if len(w.accepted) == w.batchSize {
				if err := w.flushAccepted(ctx); err != nil {
					return err
				}
			}
			continue
		}
		w.rejected = append(w.rejected, dlqValues(res.DLQ))
		if len(w.rejected) == w.batchSize {
			if err := w.flushRejected(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush drains both buffers. Call once after the last batch.
func (w *StageWriter) Flush(ctx context.Context) error {
	if err := w.flushAccepted(ctx); err != nil {
		return err
	}
	return w.flushRejected(ctx)
}

// RowsWritten counts accepted rows only; rejected rows are DLQ
// records, not staged data.
func (w *StageWriter) RowsWritten() int64 { return w.rowsWritten }

// DLQWritten counts rejected records written to file_load_dlq.
func (w *StageWriter) DLQWritten() int64 { return w.dlqWritten }

func (w *StageWriter) flushAccepted(ctx context.Context) error {
	if len(w.accepted) == 0 {
		return nil
	}
	if w.bulkCopy {
		if err := w.flushAcceptedBulk(ctx); err != nil {
			return err
		}
	} else {
		for start := 0; start < len(w.accepted); start += w.acceptedMax {
			chunk := w.accepted[start:min(start+w.acceptedMax, len(w.accepted))]
			if _, err := w.pool.NamedExecContext(ctx, w.insertSQL, chunk); err != nil {
				return fmt.Errorf("insert into %s: %w", w.stageTable, err)
			}
		}
	}
	w.rowsWritten += int64(len(w.accepted))
	w.accepted = w.accepted[:0]
	if w.rowsWritten < progressLogEvery || w.rowsWritten%progressLogEvery == 0 {
		w.logger.Info("rows written to stage", "rows", w.rowsWritten, "stage_table", w.stageTable)
	}
	return nil
}

// flushAcceptedBulk streams the buffer through SQL Server's native
// bulk-copy protocol. One prepared statement per flush; the trailing
// no-arg exec commits the bulk batch.
func (w *StageWriter) flushAcceptedBulk(ctx context.Context) error {
	tx, err := w.pool.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk copy into %s: %w", w.stageTable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(w.stageTable, mssql.BulkOptions{}, w.cols...))
	if err != nil {
		return fmt.Errorf("bulk copy into %s: %w", w.stageTable, err)
	}
	defer stmt.Close()

	args := make([]any, len(w.cols))
	for _, row := range w.accepted {
		for i, col := range w.cols {
			args[i] = row[col]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("bulk copy into %s: %w", w.stageTable, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("bulk copy into %s: %w", w.stageTable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bulk copy into %s: %w", w.stageTable, err)
	}
	return nil
}

const dlqInsertSQL = `INSERT INTO file_load_dlq
    (source_filename, file_row_number, file_record_data, validation_errors, file_load_log_id, target_table_name, failed_at)
VALUES
    (:source_filename, :file_row_number, :file_record_data, :validation_errors, :file_load_log_id, :target_table_name, :failed_at)`

func (w *StageWriter) flushRejected(ctx context.Context) error {
	if len(w.rejected) == 0 {
		return nil
	}
	for start := 0; start < len(w.rejected); start += w.rejectedMax {
		chunk := w.rejected[start:min(start+w.rejectedMax, len(w.rejected))]
		if _, err := w.pool.NamedExecContext(ctx, dlqInsertSQL, chunk); err != nil {
			return fmt.Errorf("insert into file_load_dlq: %w", err)
		}
	}
	w.dlqWritten += int64(len(w.rejected))
	w.rejected = w.rejected[:0]
	return nil
}

func dlqValues(rec *validate.DLQRecord) map[string]any {
	return map[string]any{
		"source_filename":   rec.SourceFilename,
		"file_row_number":   rec.FileRowNumber,
		"file_record_data":  rec.FileRecordData,
		"validation_errors": rec.ValidationErrors,
		"file_load_log_id":  rec.FileLoadLogID,
		"target_table_name": rec.TargetTableName,
		"failed_at":         rec.FailedAt,
	}
}

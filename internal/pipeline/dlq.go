package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cmgoffena13/etl-file-loader/internal/db"
)

// DLQCleaner removes this file's DLQ records left behind by earlier
// runs once the current run has published. Records from the current
// run stay: they describe rows the target still does not have.
type DLQCleaner struct {
	pool      *sqlx.DB
	dialect   db.Dialect
	filename  string
	logID     int64
	batchSize int
	logger    *slog.Logger
}

func NewDLQCleaner(pool *sqlx.DB, dialect db.Dialect, filename string, logID int64, batchSize int, logger *slog.Logger) *DLQCleaner {
	return &DLQCleaner{pool: pool, dialect: dialect, filename: filename, logID: logID, batchSize: batchSize, logger: logger}
}

func (c *DLQCleaner) Clean(ctx context.Context) error {
	exists, err := c.staleRecordsExist(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	deleteSQL := c.pool.Rebind(c.dialect.DLQDeleteBatchSQL(c.batchSize))
	var total int64
	for {
		res, err := c.pool.ExecContext(ctx, deleteSQL, c.filename, c.logID)
		if err != nil {
			return fmt.Errorf("delete dlq records for %s: %w", c.filename, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete dlq records for %s: %w", c.filename, err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	c.logger.Info("deleted stale dlq records", "deleted", total, "source_filename", c.filename)
	return nil
}

func (c *DLQCleaner) staleRecordsExist(ctx context.Context) (bool, error) {
	query := c.pool.Rebind(`SELECT CASE WHEN EXISTS(
    SELECT 1 FROM file_load_dlq
    WHERE source_filename = ? AND file_load_log_id < ?) THEN 1 ELSE 0 END`)
	var exists int
	if err := c.pool.GetContext(ctx, &exists, query, c.filename, c.logID); err != nil {
		return false, fmt.Errorf("check dlq records for %s: %w", c.filename, err)
	}
	return exists == 1, nil
}

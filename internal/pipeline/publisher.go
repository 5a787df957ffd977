package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

// Publisher merges the staged file into the target table. Insert and
// update counts are measured before the merge runs, because no dialect
// reports them both from a single upsert statement.
type Publisher struct {
	pool               *sqlx.DB
	dialect            db.Dialect
	src                *sources.Source
	stageTable         string
	rowsWrittenToStage int64
	logger             *slog.Logger
}

func NewPublisher(pool *sqlx.DB, dialect db.Dialect, src *sources.Source, stageTable string, rowsWrittenToStage int64, logger *slog.Logger) *Publisher {
	return &Publisher{
		pool:               pool,
		dialect:            dialect,
		src:                src,
		stageTable:         stageTable,
		rowsWrittenToStage: rowsWrittenToStage,
		logger:             logger,
	}
}

// Publish upserts stage into target and returns (inserts, updates).
func (p *Publisher) Publish(ctx context.Context) (int64, int64, error) {
	inserts, err := p.insertCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	updates, err := p.updateCount(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := p.dialect.TimestampLiteral(time.Now().UTC())
	p.logger.Info("publishing", "stage_table", p.stageTable, "target_table", p.src.TableName)
	if _, err := p.pool.ExecContext(ctx, p.dialect.MergeSQL(p.src, p.stageTable, now)); err != nil {
		return 0, 0, fmt.Errorf("publish %s to %s: %w", p.stageTable, p.src.TableName, err)
	}
	return inserts, updates, nil
}

// insertCount subtracts the already-present rows from the staged
// total. EXISTS beats NOT EXISTS on every supported dialect.
func (p *Publisher) insertCount(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s AS stage
WHERE EXISTS (
    SELECT 1 FROM %s AS target
    WHERE %s)`,
		p.stageTable, p.src.TableName, db.GrainJoinCondition(p.src.Grain))
	var existing int64
	if err := p.pool.GetContext(ctx, &existing, query); err != nil {
		return 0, fmt.Errorf("insert count for %s: %w", p.stageTable, err)
	}
	return p.rowsWrittenToStage - existing, nil
}

func (p *Publisher) updateCount(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s AS stage
WHERE EXISTS (
    SELECT 1 FROM %s AS target
    WHERE %s
    AND stage.etl_row_hash != target.etl_row_hash)`,
		p.stageTable, p.src.TableName, db.GrainJoinCondition(p.src.Grain))
	var updates int64
	if err := p.pool.GetContext(ctx, &updates, query); err != nil {
		return 0, fmt.Errorf("update count for %s: %w", p.stageTable, err)
	}
	return updates, nil
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

const duplicateExampleLimit = 5

// Auditor checks the staged file before anything touches the target:
// first that the declared grain is unique, then any declared audit
// query.
type Auditor struct {
	pool       *sqlx.DB
	dialect    db.Dialect
	src        *sources.Source
	stageTable string
	filename   string
	logger     *slog.Logger
}

func NewAuditor(pool *sqlx.DB, dialect db.Dialect, src *sources.Source, stageTable, filename string, logger *slog.Logger) *Auditor {
	return &Auditor{pool: pool, dialect: dialect, src: src, stageTable: stageTable, filename: filename, logger: logger}
}

// AuditGrain fails the file when the grain does not uniquely identify
// its staged rows, carrying up to five offending tuples as examples.
func (a *Auditor) AuditGrain(ctx context.Context) error {
	a.logger.Info("auditing grain", "stage_table", a.stageTable)
	query := strings.ReplaceAll(a.dialect.GrainCheckSQL(a.src.Grain), "{table}", a.stageTable)
	var unique int
	if err := a.pool.GetContext(ctx, &unique, query); err != nil {
		return fmt.Errorf("grain check on %s: %w", a.stageTable, err)
	}
	if unique == 1 {
		return nil
	}

	examples, err := a.duplicateExamples(ctx)
	if err != nil {
		return err
	}
	return fileerr.New(fileerr.KindGrainValidation, map[string]any{
		"source_filename":         a.filename,
		"stage_table_name":        a.stageTable,
		"grain_aliases_formatted": strings.Join(a.src.GrainAliases(), ", "),
		"additional_details":      examples,
	})
}

func (a *Auditor) duplicateExamples(ctx context.Context) (string, error) {
	query := strings.ReplaceAll(
		a.dialect.DuplicateExamplesSQL(a.src.Grain, duplicateExampleLimit), "{table}", a.stageTable)
	rows, err := a.pool.QueryxContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("duplicate examples on %s: %w", a.stageTable, err)
	}
	defer rows.Close()

	aliases := a.src.GrainAliases()
	var b strings.Builder
	b.WriteString("Sample duplicate grain violations:\n")
	for rows.Next() {
		record := map[string]any{}
		if err := rows.MapScan(record); err != nil {
			return "", fmt.Errorf("duplicate examples on %s: %w", a.stageTable, err)
		}
		var parts []string
		for i, col := range a.src.Grain {
			parts = append(parts, fmt.Sprintf("%s: %v", aliases[i], scalar(record[col])))
		}
		parts = append(parts, fmt.Sprintf("duplicate_count: %v", scalar(record["duplicate_count"])))
		b.WriteString("  - " + strings.Join(parts, ", ") + "\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("duplicate examples on %s: %w", a.stageTable, err)
	}
	return b.String(), nil
}

// AuditData runs the source's declared audit query against the stage
// table. Every column of its single result row is a named check; a
// zero value means that check failed.
func (a *Auditor) AuditData(ctx context.Context) error {
	if a.src.AuditQuery == "" {
		a.logger.Warn("no audit query declared", "table", a.src.TableName)
		return nil
	}
	a.logger.Info("auditing data", "stage_table", a.stageTable)
	query := strings.TrimSpace(strings.ReplaceAll(a.src.AuditQuery, "{table}", a.stageTable))
	rows, err := a.pool.QueryxContext(ctx, query)
	if err != nil {
		return fmt.Errorf("audit query on %s: %w", a.stageTable, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("audit query on %s: %w", a.stageTable, err)
		}
		return fmt.Errorf("audit query on %s returned no rows", a.stageTable)
	}
	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("audit query on %s: %w", a.stageTable, err)
	}
	record := map[string]any{}
	if err := rows.MapScan(record); err != nil {
		return fmt.Errorf("audit query on %s: %w", a.stageTable, err)
	}

	var failed []string
	for _, name := range cols {
		if isZero(record[name]) {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fileerr.New(fileerr.KindAuditFailed, map[string]any{
		"source_filename":         a.filename,
		"stage_table_name":        a.stageTable,
		"failed_audits_formatted": strings.Join(failed, ", "),
	})
}

// isZero treats the shapes drivers hand back for a zero audit result
// as failure markers.
func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int64:
		return x == 0
	case int32:
		return x == 0
	case int:
		return x == 0
	case float64:
		return x == 0
	case bool:
		return !x
	case []byte:
		return string(x) == "0"
	case string:
		return x == "0"
	default:
		return false
	}
}

func scalar(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

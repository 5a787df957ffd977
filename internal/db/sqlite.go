package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

type sqliteDialect struct{}

func (sqliteDialect) Name() string   { return "sqlite" }
func (sqliteDialect) Driver() string { return "sqlite" }

// SQLITE_MAX_VARIABLE_NUMBER default.
func (sqliteDialect) BindParamLimit() int { return 32766 }

func (sqliteDialect) ColumnType(f schema.Field) string {
	switch f.Type {
	case schema.TypeInt:
		return "INTEGER"
	case schema.TypeFloat, schema.TypeDecimal:
		return "NUMERIC"
	case schema.TypeBool:
		return "INTEGER"
	case schema.TypeDate, schema.TypeDateTime:
		// Stored as text; any offset travels inside the value.
		return "TEXT"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) AutoIncrementPK() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqliteDialect) IDType() string          { return "INTEGER" }
func (sqliteDialect) HashType() string        { return "BLOB" }
func (sqliteDialect) BoolType() string        { return "INTEGER" }
func (sqliteDialect) TimestampType() string   { return "TEXT" }
func (sqliteDialect) PayloadType() string     { return "TEXT" }

func (sqliteDialect) CreateTableIfNotExists(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", table, body)
}

func (sqliteDialect) CreateIndexIfNotExists(index, table string, cols ...string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", index, table, strings.Join(cols, ", "))
}

func (sqliteDialect) InsertLogReturning() bool { return false }

func (sqliteDialect) InsertLogSQL() string {
	return "INSERT INTO file_load_log (source_filename, file_path, started_at) VALUES (?, ?, ?)"
}

func (sqliteDialect) GrainCheckSQL(grain []string) string {
	if len(grain) == 1 {
		return singleGrainCheck(grain[0])
	}
	return fmt.Sprintf(
		"SELECT CASE WHEN COUNT(DISTINCT %s) = COUNT(*) THEN 1 ELSE 0 END AS grain_unique FROM {table}",
		concatGrain(grain))
}

func (sqliteDialect) DuplicateExamplesSQL(grain []string, limit int) string {
	cols := strings.Join(grain, ", ")
	return fmt.Sprintf(
		"SELECT %s, COUNT(*) AS duplicate_count FROM {table} GROUP BY %s HAVING COUNT(*) > 1 LIMIT %d",
		cols, cols, limit)
}

func (sqliteDialect) MergeSQL(src *sources.Source, stageTable, nowLiteral string) string {
	cols := rowColumns(src)
	insertCols := strings.Join(cols, ", ") + ", etl_created_at"
	selectCols := make([]string, len(cols))
	for i, col := range cols {
		selectCols[i] = "stage." + col
	}
	var updates []string
	for _, col := range cols {
		if contains(src.Grain, col) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	updates = append(updates, fmt.Sprintf("etl_updated_at = '%s'", nowLiteral))

	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s, '%s'
FROM %s AS stage
WHERE true
ON CONFLICT (%s) DO UPDATE SET
    %s
WHERE excluded.etl_row_hash != %s.etl_row_hash`,
		src.TableName, insertCols,
		strings.Join(selectCols, ", "), nowLiteral,
		stageTable,
		strings.Join(src.Grain, ", "),
		strings.Join(updates, ",\n    "),
		src.TableName)
}

func (sqliteDialect) DLQDeleteBatchSQL(batchSize int) string {
	return fmt.Sprintf(`DELETE FROM file_load_dlq WHERE id IN (
    SELECT id FROM file_load_dlq
    WHERE source_filename = ? AND file_load_log_id < ?
    LIMIT %d)`, batchSize)
}

func (sqliteDialect) TimestampLiteral(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

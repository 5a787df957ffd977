package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

type postgresDialect struct{}

func (postgresDialect) Name() string   { return "postgres" }
func (postgresDialect) Driver() string { return "pgx" }

// The wire protocol caps bind parameters at uint16.
func (postgresDialect) BindParamLimit() int { return 65535 }

func (postgresDialect) ColumnType(f schema.Field) string {
	switch f.Type {
	case schema.TypeInt:
		return "BIGINT"
	case schema.TypeFloat, schema.TypeDecimal:
		return "NUMERIC"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDateTime:
		return "TIMESTAMPTZ"
	default:
		if f.MaxLen > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.MaxLen)
		}
		return "TEXT"
	}
}

func (postgresDialect) AutoIncrementPK() string { return "BIGSERIAL PRIMARY KEY" }
func (postgresDialect) IDType() string          { return "BIGINT" }
func (postgresDialect) HashType() string        { return "BYTEA" }
func (postgresDialect) BoolType() string        { return "BOOLEAN" }
func (postgresDialect) TimestampType() string   { return "TIMESTAMPTZ" }
func (postgresDialect) PayloadType() string     { return "JSONB" }

func (postgresDialect) CreateTableIfNotExists(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", table, body)
}

func (postgresDialect) CreateIndexIfNotExists(index, table string, cols ...string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", index, table, strings.Join(cols, ", "))
}

func (postgresDialect) InsertLogReturning() bool { return true }

func (postgresDialect) InsertLogSQL() string {
	return "INSERT INTO file_load_log (source_filename, file_path, started_at) VALUES (?, ?, ?) RETURNING id"
}

func (postgresDialect) GrainCheckSQL(grain []string) string {
	if len(grain) == 1 {
		return singleGrainCheck(grain[0])
	}
	return fmt.Sprintf(
		"SELECT CASE WHEN COUNT(DISTINCT (%s)) = COUNT(*) THEN 1 ELSE 0 END AS grain_unique FROM {table}",
		strings.Join(grain, ", "))
}

func (postgresDialect) DuplicateExamplesSQL(grain []string, limit int) string {
	cols := strings.Join(grain, ", ")
	return fmt.Sprintf(
		"SELECT %s, COUNT(*) AS duplicate_count FROM {table} GROUP BY %s HAVING COUNT(*) > 1 LIMIT %d",
		cols, cols, limit)
}

func (postgresDialect) MergeSQL(src *sources.Source, stageTable, nowLiteral string) string {
	cols := rowColumns(src)
	insertCols := strings.Join(cols, ", ") + ", etl_created_at"
	insertVals := make([]string, len(cols))
	for i, col := range cols {
		insertVals[i] = "stage." + col
	}
	var updates []string
	for _, col := range cols {
		if contains(src.Grain, col) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = stage.%s", col, col))
	}
	updates = append(updates, fmt.Sprintf("etl_updated_at = '%s'", nowLiteral))

	return fmt.Sprintf(`MERGE INTO %s AS target
USING %s AS stage
ON %s
WHEN MATCHED AND stage.etl_row_hash != target.etl_row_hash THEN
    UPDATE SET %s
WHEN NOT MATCHED THEN
    INSERT (%s)
    VALUES (%s, '%s')`,
		src.TableName, stageTable, joinCondition(src.Grain),
		strings.Join(updates, ", "),
		insertCols, strings.Join(insertVals, ", "), nowLiteral)
}

func (postgresDialect) DLQDeleteBatchSQL(batchSize int) string {
	return fmt.Sprintf(`DELETE FROM file_load_dlq WHERE id IN (
    SELECT id FROM file_load_dlq
    WHERE source_filename = ? AND file_load_log_id < ?
    LIMIT %d)`, batchSize)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (postgresDialect) TimestampLiteral(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

type mysqlDialect struct{}

func (mysqlDialect) Name() string   { return "mysql" }
func (mysqlDialect) Driver() string { return "mysql" }

func (mysqlDialect) BindParamLimit() int { return 65535 }

func (mysqlDialect) ColumnType(f schema.Field) string {
	switch f.Type {
	case schema.TypeInt:
		return "BIGINT"
	case schema.TypeFloat, schema.TypeDecimal:
		return "DECIMAL(38, 10)"
	case schema.TypeBool:
		return "TINYINT(1)"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDateTime:
		// DATETIME carries no offset; values are normalized to UTC
		// before they reach the database.
		return "DATETIME(6)"
	default:
		if f.MaxLen > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.MaxLen)
		}
		return "VARCHAR(255)"
	}
}

func (mysqlDialect) AutoIncrementPK() string { return "BIGINT AUTO_INCREMENT PRIMARY KEY" }
func (mysqlDialect) IDType() string          { return "BIGINT" }
func (mysqlDialect) HashType() string        { return "VARBINARY(16)" }
func (mysqlDialect) BoolType() string        { return "TINYINT(1)" }
func (mysqlDialect) TimestampType() string   { return "DATETIME(6)" }
func (mysqlDialect) PayloadType() string     { return "JSON" }

func (mysqlDialect) CreateTableIfNotExists(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", table, body)
}

// MySQL has no IF NOT EXISTS for indexes before 8.0.29; recreating an
// index it already has fails, so the caller swallows duplicate-name
// errors.
func (mysqlDialect) CreateIndexIfNotExists(index, table string, cols ...string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", index, table, strings.Join(cols, ", "))
}

func (mysqlDialect) InsertLogReturning() bool { return false }

func (mysqlDialect) InsertLogSQL() string {
	return "INSERT INTO file_load_log (source_filename, file_path, started_at) VALUES (?, ?, ?)"
}

func (mysqlDialect) GrainCheckSQL(grain []string) string {
	if len(grain) == 1 {
		return singleGrainCheck(grain[0])
	}
	return fmt.Sprintf(
		"SELECT CASE WHEN COUNT(DISTINCT %s) = COUNT(*) THEN 1 ELSE 0 END AS grain_unique FROM {table}",
		concatGrain(grain))
}

func (mysqlDialect) DuplicateExamplesSQL(grain []string, limit int) string {
	cols := strings.Join(grain, ", ")
	return fmt.Sprintf(
		"SELECT %s, COUNT(*) AS duplicate_count FROM {table} GROUP BY %s HAVING COUNT(*) > 1 LIMIT %d",
		cols, cols, limit)
}

// MergeSQL relies on the target's primary key over the grain columns:
// INSERT ... ON DUPLICATE KEY UPDATE, with the lineage columns and
// etl_updated_at only touched when the row hash actually changed.
func (mysqlDialect) MergeSQL(src *sources.Source, stageTable, nowLiteral string) string {
	cols := rowColumns(src)
	insertCols := strings.Join(cols, ", ") + ", etl_created_at"
	selectCols := make([]string, len(cols))
	for i, col := range cols {
		selectCols[i] = "stage." + col
	}

	var updates []string
	for _, col := range cols {
		if contains(src.Grain, col) || col == "source_filename" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = stage.%s", col, col))
	}
	updates = append(updates, fmt.Sprintf(
		"source_filename = IF(stage.etl_row_hash != %s.etl_row_hash, stage.source_filename, %s.source_filename)",
		src.TableName, src.TableName))
	updates = append(updates, fmt.Sprintf(
		"etl_updated_at = IF(stage.etl_row_hash != %s.etl_row_hash, '%s', %s.etl_updated_at)",
		src.TableName, nowLiteral, src.TableName))

	return fmt.Sprintf(`INSERT INTO %s (%s)
SELECT %s, '%s'
FROM %s AS stage
ON DUPLICATE KEY UPDATE
    %s`,
		src.TableName, insertCols,
		strings.Join(selectCols, ", "), nowLiteral,
		stageTable,
		strings.Join(updates, ",\n    "))
}

func (mysqlDialect) DLQDeleteBatchSQL(batchSize int) string {
	return fmt.Sprintf(`DELETE FROM file_load_dlq
WHERE source_filename = ? AND file_load_log_id < ?
LIMIT %d`, batchSize)
}

func concatGrain(grain []string) string {
	args := make([]string, 0, len(grain)*2-1)
	for i, col := range grain {
		if i > 0 {
			args = append(args, "'||'")
		}
		args = append(args, col)
	}
	return "CONCAT(" + strings.Join(args, ", ") + ")"
}

// MySQL DATETIME parses no offset suffix.
func (mysqlDialect) TimestampLiteral(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000")
}

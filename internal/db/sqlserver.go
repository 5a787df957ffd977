package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

type sqlserverDialect struct{}

func (sqlserverDialect) Name() string   { return "sqlserver" }
func (sqlserverDialect) Driver() string { return "sqlserver" }

// sp_executesql refuses more than 2100 parameters, and one is reserved
// for the statement itself.
func (sqlserverDialect) BindParamLimit() int { return 2000 }

func (sqlserverDialect) ColumnType(f schema.Field) string {
	switch f.Type {
	case schema.TypeInt:
		return "BIGINT"
	case schema.TypeFloat, schema.TypeDecimal:
		return "DECIMAL(38, 10)"
	case schema.TypeBool:
		return "BIT"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDateTime:
		return "DATETIMEOFFSET(2)"
	default:
		// SQL Server needs an explicit length.
		if f.MaxLen > 0 {
			return fmt.Sprintf("NVARCHAR(%d)", f.MaxLen)
		}
		return "NVARCHAR(255)"
	}
}

func (sqlserverDialect) AutoIncrementPK() string { return "BIGINT IDENTITY(1,1) PRIMARY KEY" }
func (sqlserverDialect) IDType() string          { return "BIGINT" }
func (sqlserverDialect) HashType() string        { return "VARBINARY(16)" }
func (sqlserverDialect) BoolType() string        { return "BIT" }
func (sqlserverDialect) TimestampType() string   { return "DATETIMEOFFSET(2)" }
func (sqlserverDialect) PayloadType() string     { return "NVARCHAR(4000)" }

func (sqlserverDialect) CreateTableIfNotExists(table, body string) string {
	return fmt.Sprintf("IF OBJECT_ID('%s', 'U') IS NULL CREATE TABLE %s (\n%s\n)", table, table, body)
}

func (sqlserverDialect) CreateIndexIfNotExists(index, table string, cols ...string) string {
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = '%s' AND object_id = OBJECT_ID('%s')) CREATE INDEX %s ON %s (%s)",
		index, table, index, table, strings.Join(cols, ", "))
}

func (sqlserverDialect) InsertLogReturning() bool { return true }

func (sqlserverDialect) InsertLogSQL() string {
	return "INSERT INTO file_load_log (source_filename, file_path, started_at) OUTPUT INSERTED.id VALUES (?, ?, ?)"
}

func (sqlserverDialect) GrainCheckSQL(grain []string) string {
	if len(grain) == 1 {
		return singleGrainCheck(grain[0])
	}
	parts := make([]string, len(grain))
	for i, col := range grain {
		parts[i] = fmt.Sprintf("CAST(%s AS VARCHAR(4000))", col)
	}
	return fmt.Sprintf(
		"SELECT CASE WHEN COUNT(DISTINCT %s) = COUNT(*) THEN 1 ELSE 0 END AS grain_unique FROM {table}",
		strings.Join(parts, " + '||' + "))
}

func (sqlserverDialect) DuplicateExamplesSQL(grain []string, limit int) string {
	cols := strings.Join(grain, ", ")
	return fmt.Sprintf(
		"SELECT TOP(%d) %s, COUNT(*) AS duplicate_count FROM {table} GROUP BY %s HAVING COUNT(*) > 1",
		limit, cols, cols)
}

func (sqlserverDialect) MergeSQL(src *sources.Source, stageTable, nowLiteral string) string {
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

	// SQL Server requires the terminating semicolon on MERGE.
	return fmt.Sprintf(`MERGE INTO %s AS target
USING %s AS stage
ON %s
WHEN MATCHED AND stage.etl_row_hash != target.etl_row_hash THEN
    UPDATE SET %s
WHEN NOT MATCHED THEN
    INSERT (%s)
    VALUES (%s, '%s');`,
		src.TableName, stageTable, joinCondition(src.Grain),
		strings.Join(updates, ", "),
		insertCols, strings.Join(insertVals, ", "), nowLiteral)
}

func (sqlserverDialect) DLQDeleteBatchSQL(batchSize int) string {
	return fmt.Sprintf(`DELETE TOP(%d) FROM file_load_dlq
WHERE source_filename = ? AND file_load_log_id < ?`, batchSize)
}

func (sqlserverDialect) TimestampLiteral(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

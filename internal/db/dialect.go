// Package db holds the warehouse access layer: connection setup, the
// per-dialect SQL, control table DDL, and the file load log store.
package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

// Dialect captures the SQL that differs across the supported
// warehouses. Everything else goes through database/sql with "?"
// placeholders and sqlx.Rebind.
type Dialect interface {
	Name() string
	// Driver is the database/sql driver name to open.
	Driver() string
	// BindParamLimit is the engine's cap on bind parameters in a single
	// statement. Multi-row inserts are chunked to stay under it.
	BindParamLimit() int
	// ColumnType renders the column type for a schema field.
	ColumnType(f schema.Field) string
	// AutoIncrementPK renders the id column of the control tables.
	AutoIncrementPK() string
	// IDType is the type used to reference a log id from other tables.
	IDType() string
	HashType() string
	BoolType() string
	TimestampType() string
	// PayloadType holds the DLQ JSON payloads.
	PayloadType() string
	// CreateTableIfNotExists wraps a column body in the dialect's
	// conditional create form.
	CreateTableIfNotExists(table, body string) string
	// CreateIndexIfNotExists builds a conditional index create.
	CreateIndexIfNotExists(index, table string, cols ...string) string
	// InsertLogReturning reports whether StartLog can read the new id
	// from the insert statement itself instead of LastInsertId.
	InsertLogReturning() bool
	// InsertLogSQL inserts a log row binding (source_filename,
	// file_path, started_at).
	InsertLogSQL() string
	// GrainCheckSQL yields one row with a grain_unique column that is 1
	// when the grain holds. {table} is substituted with the stage name.
	GrainCheckSQL(grain []string) string
	// DuplicateExamplesSQL selects up to limit offending grain tuples
	// with a duplicate_count column. {table} as above.
	DuplicateExamplesSQL(grain []string, limit int) string
	// MergeSQL upserts the stage table into the target in a single
	// statement. nowLiteral is a pre-rendered UTC timestamp string.
	MergeSQL(src *sources.Source, stageTable, nowLiteral string) string
	// TimestampLiteral renders a UTC timestamp the way the dialect's
	// timestamp type parses it.
	TimestampLiteral(t time.Time) string
	// DLQDeleteBatchSQL deletes one batch of rows for a filename from
	// earlier runs, binding (source_filename, log_id).
	DLQDeleteBatchSQL(batchSize int) string
}

// ForName maps a configured dialect name to its implementation.
func ForName(name string) (Dialect, error) {
	switch name {
	case "postgres":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	case "sqlserver":
		return sqlserverDialect{}, nil
	default:
		return nil, fmt.Errorf("db: unsupported dialect %q", name)
	}
}

// GrainJoinCondition renders the target/stage equality over the grain
// columns, shared by the merge statements and the publish counters.
func GrainJoinCondition(grain []string) string {
	return joinCondition(grain)
}

func joinCondition(grain []string) string {
	parts := make([]string, len(grain))
	for i, col := range grain {
		parts[i] = fmt.Sprintf("target.%s = stage.%s", col, col)
	}
	return strings.Join(parts, " AND ")
}

// rowColumns is the full stage column list: schema fields in declared
// order plus the lineage columns every staged row carries.
func rowColumns(src *sources.Source) []string {
	cols := append([]string{}, src.Schema.Names()...)
	return append(cols, "etl_row_hash", "source_filename", "file_load_log_id")
}

func singleGrainCheck(col string) string {
	return fmt.Sprintf(
		"SELECT CASE WHEN COUNT(DISTINCT %s) = COUNT(*) THEN 1 ELSE 0 END AS grain_unique FROM {table}", col)
}

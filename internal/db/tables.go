package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

// EnsureControlTables creates file_load_log and file_load_dlq when
// they do not exist yet. Index creation for dialects without a
// conditional form tolerates duplicate-name errors.
func EnsureControlTables(ctx context.Context, pool *sqlx.DB, d Dialect) error {
	logBody := strings.Join([]string{
		"    id " + d.AutoIncrementPK(),
		"    source_filename VARCHAR(255) NOT NULL",
		"    file_path VARCHAR(1024)",
		"    started_at " + d.TimestampType() + " NOT NULL",
		"    ended_at " + d.TimestampType(),
		"    success " + d.BoolType(),
		"    outcome_category VARCHAR(20)",
		"    error_type VARCHAR(100)",
		"    duplicate_skipped " + d.BoolType(),
		"    archive_copy_started_at " + d.TimestampType(),
		"    archive_copy_ended_at " + d.TimestampType(),
		"    archive_copy_success " + d.BoolType(),
		"    read_started_at " + d.TimestampType(),
		"    read_ended_at " + d.TimestampType(),
		"    read_success " + d.BoolType(),
		"    records_read " + d.IDType(),
		"    validate_started_at " + d.TimestampType(),
		"    validate_ended_at " + d.TimestampType(),
		"    validate_success " + d.BoolType(),
		"    validation_errors " + d.IDType(),
		"    write_started_at " + d.TimestampType(),
		"    write_ended_at " + d.TimestampType(),
		"    write_success " + d.BoolType(),
		"    records_written_to_stage " + d.IDType(),
		"    audit_started_at " + d.TimestampType(),
		"    audit_ended_at " + d.TimestampType(),
		"    audit_success " + d.BoolType(),
		"    publish_started_at " + d.TimestampType(),
		"    publish_ended_at " + d.TimestampType(),
		"    publish_success " + d.BoolType(),
		"    publish_inserts " + d.IDType(),
		"    publish_updates " + d.IDType(),
	}, ",\n")

	dlqBody := strings.Join([]string{
		"    id " + d.AutoIncrementPK(),
		"    source_filename VARCHAR(255) NOT NULL",
		"    file_row_number " + d.IDType() + " NOT NULL",
		"    file_record_data " + d.PayloadType(),
		"    validation_errors " + d.PayloadType(),
		"    file_load_log_id " + d.IDType() + " NOT NULL",
		"    target_table_name VARCHAR(255) NOT NULL",
		"    failed_at " + d.TimestampType() + " NOT NULL",
	}, ",\n")

	stmts := []string{
		d.CreateTableIfNotExists("file_load_log", logBody),
		d.CreateTableIfNotExists("file_load_dlq", dlqBody),
		d.CreateIndexIfNotExists("ix_file_load_log_source_filename", "file_load_log", "source_filename"),
		d.CreateIndexIfNotExists("ix_file_load_dlq_file", "file_load_dlq", "source_filename", "file_load_log_id"),
	}
	for _, stmt := range stmts {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("ensure control tables: %w", err)
		}
	}
	return nil
}

// EnsureTargetTable creates a source's target table with the grain as
// primary key and an index over source_filename for the duplicate
// check.
func EnsureTargetTable(ctx context.Context, pool *sqlx.DB, d Dialect, src *sources.Source) error {
	var lines []string
	for _, f := range src.Schema {
		null := ""
		if !f.Optional {
			null = " NOT NULL"
		}
		lines = append(lines, fmt.Sprintf("    %s %s%s", f.Name, d.ColumnType(f), null))
	}
	lines = append(lines,
		"    etl_row_hash "+d.HashType()+" NOT NULL",
		"    source_filename VARCHAR(255) NOT NULL",
		"    file_load_log_id "+d.IDType()+" NOT NULL",
		"    etl_created_at "+d.TimestampType()+" NOT NULL",
		"    etl_updated_at "+d.TimestampType(),
		"    PRIMARY KEY ("+strings.Join(src.Grain, ", ")+")",
	)

	stmts := []string{
		d.CreateTableIfNotExists(src.TableName, strings.Join(lines, ",\n")),
		d.CreateIndexIfNotExists("ix_"+src.TableName+"_source_filename", src.TableName, "source_filename"),
	}
	for _, stmt := range stmts {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("ensure target %s: %w", src.TableName, err)
		}
	}
	return nil
}

// CreateStageTable drops and recreates the per-file staging table. No
// primary key: the grain audit runs after loading, on the whole file.
func CreateStageTable(ctx context.Context, pool *sqlx.DB, d Dialect, src *sources.Source, filename string) (string, error) {
	name := StageTableName(filename)
	if _, err := pool.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return "", fmt.Errorf("drop stage %s: %w", name, err)
	}
	var lines []string
	for _, f := range src.Schema {
		lines = append(lines, fmt.Sprintf("    %s %s", f.Name, d.ColumnType(f)))
	}
	lines = append(lines,
		"    etl_row_hash "+d.HashType()+" NOT NULL",
		"    source_filename VARCHAR(255) NOT NULL",
		"    file_load_log_id "+d.IDType()+" NOT NULL",
	)
	stmt := fmt.Sprintf("CREATE TABLE %s (\n%s\n)", name, strings.Join(lines, ",\n"))
	if _, err := pool.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("create stage %s: %w", name, err)
	}
	return name, nil
}

// DropStageTable removes the staging table once a file is published.
func DropStageTable(ctx context.Context, pool *sqlx.DB, stageTable string) error {
	if _, err := pool.ExecContext(ctx, "DROP TABLE IF EXISTS "+stageTable); err != nil {
		return fmt.Errorf("drop stage %s: %w", stageTable, err)
	}
	return nil
}

// IsDuplicateFile reports whether the target table already holds rows
// from a file with this name.
func IsDuplicateFile(ctx context.Context, pool *sqlx.DB, src *sources.Source, filename string) (bool, error) {
	query := pool.Rebind(fmt.Sprintf(
		"SELECT CASE WHEN EXISTS(SELECT 1 FROM %s WHERE source_filename = ?) THEN 1 ELSE 0 END",
		src.TableName))
	var exists int
	if err := pool.GetContext(ctx, &exists, query, filename); err != nil {
		return false, fmt.Errorf("duplicate check %s: %w", filename, err)
	}
	return exists == 1, nil
}

func isDuplicateIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key name") || strings.Contains(msg, "already exists")
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Outcome categories recorded on closed log rows.
const (
	OutcomeSuccess        = "success"
	OutcomeDuplicate      = "duplicate"
	OutcomeNoSource       = "no_source"
	OutcomeHandledFailure = "handled_failure"
	OutcomeFailed         = "failed"
)

// LoadLog mirrors a file_load_log row. Success is three-valued: true,
// false, or null for files skipped as duplicates.
type LoadLog struct {
	ID               int64          `db:"id"`
	SourceFilename   string         `db:"source_filename"`
	FilePath         string         `db:"file_path"`
	StartedAt        time.Time      `db:"started_at"`
	EndedAt          sql.NullTime   `db:"ended_at"`
	Success          sql.NullBool   `db:"success"`
	OutcomeCategory  sql.NullString `db:"outcome_category"`
	ErrorType        sql.NullString `db:"error_type"`
	DuplicateSkipped sql.NullBool   `db:"duplicate_skipped"`

	ArchiveCopyStartedAt sql.NullTime `db:"archive_copy_started_at"`
	ArchiveCopyEndedAt   sql.NullTime `db:"archive_copy_ended_at"`
	ArchiveCopySuccess   sql.NullBool `db:"archive_copy_success"`

	ReadStartedAt sql.NullTime  `db:"read_started_at"`
	ReadEndedAt   sql.NullTime  `db:"read_ended_at"`
	ReadSuccess   sql.NullBool  `db:"read_success"`
	RecordsRead   sql.NullInt64 `db:"records_read"`

	ValidateStartedAt sql.NullTime  `db:"validate_started_at"`
	ValidateEndedAt   sql.NullTime  `db:"validate_ended_at"`
	ValidateSuccess   sql.NullBool  `db:"validate_success"`
	ValidationErrors  sql.NullInt64 `db:"validation_errors"`

	WriteStartedAt        sql.NullTime  `db:"write_started_at"`
	WriteEndedAt          sql.NullTime  `db:"write_ended_at"`
	WriteSuccess          sql.NullBool  `db:"write_success"`
	RecordsWrittenToStage sql.NullInt64 `db:"records_written_to_stage"`

	AuditStartedAt sql.NullTime `db:"audit_started_at"`
	AuditEndedAt   sql.NullTime `db:"audit_ended_at"`
	AuditSuccess   sql.NullBool `db:"audit_success"`

	PublishStartedAt sql.NullTime  `db:"publish_started_at"`
	PublishEndedAt   sql.NullTime  `db:"publish_ended_at"`
	PublishSuccess   sql.NullBool  `db:"publish_success"`
	PublishInserts   sql.NullInt64 `db:"publish_inserts"`
	PublishUpdates   sql.NullInt64 `db:"publish_updates"`
}

// LogStore persists file_load_log rows.
type LogStore struct {
	pool    *sqlx.DB
	dialect Dialect
}

func NewLogStore(pool *sqlx.DB, dialect Dialect) *LogStore {
	return &LogStore{pool: pool, dialect: dialect}
}

// Start inserts an open log row and returns its id. The row exists
// before any other phase runs so every attempt leaves a trace.
func (s *LogStore) Start(ctx context.Context, sourceFilename, filePath string, startedAt time.Time) (int64, error) {
	query := s.pool.Rebind(s.dialect.InsertLogSQL())
	if s.dialect.InsertLogReturning() {
		var id int64
		if err := s.pool.QueryRowxContext(ctx, query, sourceFilename, filePath, startedAt).Scan(&id); err != nil {
			return 0, fmt.Errorf("start log for %s: %w", sourceFilename, err)
		}
		return id, nil
	}
	res, err := s.pool.ExecContext(ctx, query, sourceFilename, filePath, startedAt)
	if err != nil {
		return 0, fmt.Errorf("start log for %s: %w", sourceFilename, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start log for %s: %w", sourceFilename, err)
	}
	return id, nil
}

const updateLogSQL = `UPDATE file_load_log SET
    ended_at = :ended_at,
    success = :success,
    outcome_category = :outcome_category,
    error_type = :error_type,
    duplicate_skipped = :duplicate_skipped,
    archive_copy_started_at = :archive_copy_started_at,
    archive_copy_ended_at = :archive_copy_ended_at,
    archive_copy_success = :archive_copy_success,
    read_started_at = :read_started_at,
    read_ended_at = :read_ended_at,
    read_success = :read_success,
    records_read = :records_read,
    validate_started_at = :validate_started_at,
    validate_ended_at = :validate_ended_at,
    validate_success = :validate_success,
    validation_errors = :validation_errors,
    write_started_at = :write_started_at,
    write_ended_at = :write_ended_at,
    write_success = :write_success,
    records_written_to_stage = :records_written_to_stage,
    audit_started_at = :audit_started_at,
    audit_ended_at = :audit_ended_at,
    audit_success = :audit_success,
    publish_started_at = :publish_started_at,
    publish_ended_at = :publish_ended_at,
    publish_success = :publish_success,
    publish_inserts = :publish_inserts,
    publish_updates = :publish_updates
WHERE id = :id`

// Update writes the full mutable state of a log row. Phases call this
// after every transition, so a crash loses at most the current phase.
func (s *LogStore) Update(ctx context.Context, log *LoadLog) error {
	if _, err := s.pool.NamedExecContext(ctx, updateLogSQL, log); err != nil {
		return fmt.Errorf("update log %d: %w", log.ID, err)
	}
	return nil
}

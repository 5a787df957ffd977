package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
	"github.com/cmgoffena13/etl-file-loader/internal/validate"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlite"), mock
}

func testSource() *sources.Source {
	return &sources.Source{
		FilePattern: "events_*.csv",
		Format:      sources.FormatCSV,
		TableName:   "events",
		Grain:       []string{"event_id"},
		Schema: schema.Schema{
			{Name: "event_id", Type: schema.TypeInt},
			{Name: "amount", Type: schema.TypeDecimal, Optional: true},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDialect(t *testing.T) db.Dialect {
	t.Helper()
	d, err := db.ForName("sqlite")
	require.NoError(t, err)
	return d
}

func acceptedResult(id int64) validate.Result {
	return validate.Result{OK: true, Row: map[string]any{
		"event_id":         id,
		"amount":           "19.99",
		"etl_row_hash":     []byte("0123456789abcdef"),
		"source_filename":  "events_1.csv",
		"file_load_log_id": int64(7),
	}}
}

func rejectedResult(rowNumber int64) validate.Result {
	return validate.Result{OK: false, DLQ: &validate.DLQRecord{
		SourceFilename:   "events_1.csv",
		FileRowNumber:    rowNumber,
		FileRecordData:   `{"event_id":"x"}`,
		ValidationErrors: `[{"column_name":"event_id"}]`,
		FileLoadLogID:    7,
		TargetTableName:  "events",
		FailedAt:         time.Now().UTC(),
	}}
}

func TestStageWriterFlushesAtBatchSize(t *testing.T) {
	pool, mock := newMockDB(t)
	w := NewStageWriter(pool, mustDialect(t), testSource(), "stage_events_1_csv", 7, 2, false, testLogger())

	mock.ExpectExec("INSERT INTO stage_events_1_csv").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := w.Write(context.Background(), []validate.Result{
		acceptedResult(1), acceptedResult(2), acceptedResult(3),
	})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO stage_events_1_csv").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, w.Flush(context.Background()))

	assert.Equal(t, int64(3), w.RowsWritten())
	assert.Equal(t, int64(0), w.DLQWritten())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageWriterRoutesRejectedToDLQ(t *testing.T) {
	pool, mock := newMockDB(t)
	w := NewStageWriter(pool, mustDialect(t), testSource(), "stage_events_1_csv", 7, 10, false, testLogger())

	err := w.Write(context.Background(), []validate.Result{
		acceptedResult(1), rejectedResult(3), rejectedResult(4),
	})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO stage_events_1_csv").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO file_load_dlq").
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, w.Flush(context.Background()))

	assert.Equal(t, int64(1), w.RowsWritten())
	assert.Equal(t, int64(2), w.DLQWritten())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageWriterFlushEmptyIsNoop(t *testing.T) {
	pool, mock := newMockDB(t)
	w := NewStageWriter(pool, mustDialect(t), testSource(), "stage_events_1_csv", 7, 2, false, testLogger())
	require.NoError(t, w.Flush(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageWriterChunksWideFlushes(t *testing.T) {
	pool, mock := newMockDB(t)
	w := NewStageWriter(pool, mustDialect(t), testSource(), "stage_events_1_csv", 7, 8000, false, testLogger())

	// 8000 rows x 5 columns is over SQLite's 32766 bind parameters, so
	// one flush must split into two inserts.
	mock.ExpectExec("INSERT INTO stage_events_1_csv").
		WillReturnResult(sqlmock.NewResult(0, 6553))
	mock.ExpectExec("INSERT INTO stage_events_1_csv").
		WillReturnResult(sqlmock.NewResult(0, 1447))

	results := make([]validate.Result, 0, 8000)
	for i := 0; i < 8000; i++ {
		results = append(results, acceptedResult(int64(i)))
	}
	require.NoError(t, w.Write(context.Background(), results))

	assert.Equal(t, int64(8000), w.RowsWritten())
	assert.Equal(t, int64(0), w.DLQWritten())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditGrainPasses(t *testing.T) {
	pool, mock := newMockDB(t)
	a := NewAuditor(pool, mustDialect(t), testSource(), "stage_events_1_csv", "events_1.csv", testLogger())

	mock.ExpectQuery("SELECT CASE WHEN COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"grain_unique"}).AddRow(1))

	require.NoError(t, a.AuditGrain(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditGrainFailsWithExamples(t *testing.T) {
	pool, mock := newMockDB(t)
	a := NewAuditor(pool, mustDialect(t), testSource(), "stage_events_1_csv", "events_1.csv", testLogger())

	mock.ExpectQuery("SELECT CASE WHEN COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"grain_unique"}).AddRow(0))
	mock.ExpectQuery("GROUP BY event_id HAVING").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "duplicate_count"}).
			AddRow(int64(42), int64(3)))

	err := a.AuditGrain(context.Background())
	ferr, ok := fileerr.As(err)
	require.True(t, ok)
	assert.Equal(t, fileerr.KindGrainValidation, ferr.Kind)
	assert.Equal(t, "stage_events_1_csv", ferr.Values["stage_table_name"])
	assert.Contains(t, ferr.Values["additional_details"], "event_id: 42, duplicate_count: 3")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditDataSkipsWithoutQuery(t *testing.T) {
	pool, mock := newMockDB(t)
	a := NewAuditor(pool, mustDialect(t), testSource(), "stage_events_1_csv", "events_1.csv", testLogger())
	require.NoError(t, a.AuditData(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditDataReportsFailedChecks(t *testing.T) {
	src := testSource()
	src.AuditQuery = `SELECT
    CASE WHEN COUNT(*) > 0 THEN 1 ELSE 0 END AS has_rows,
    CASE WHEN MIN(amount) >= 0 THEN 1 ELSE 0 END AS amounts_positive
FROM {table}`
	pool, mock := newMockDB(t)
	a := NewAuditor(pool, mustDialect(t), src, "stage_events_1_csv", "events_1.csv", testLogger())

	mock.ExpectQuery("AS has_rows").
		WillReturnRows(sqlmock.NewRows([]string{"has_rows", "amounts_positive"}).
			AddRow(1, 0))

	err := a.AuditData(context.Background())
	ferr, ok := fileerr.As(err)
	require.True(t, ok)
	assert.Equal(t, fileerr.KindAuditFailed, ferr.Kind)
	assert.Equal(t, "amounts_positive", ferr.Values["failed_audits_formatted"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditDataAllChecksPass(t *testing.T) {
	src := testSource()
	src.AuditQuery = "SELECT CASE WHEN COUNT(*) > 0 THEN 1 ELSE 0 END AS has_rows FROM {table}"
	pool, mock := newMockDB(t)
	a := NewAuditor(pool, mustDialect(t), src, "stage_events_1_csv", "events_1.csv", testLogger())

	mock.ExpectQuery("AS has_rows").
		WillReturnRows(sqlmock.NewRows([]string{"has_rows"}).AddRow(1))

	require.NoError(t, a.AuditData(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisherCountsThenMerges(t *testing.T) {
	pool, mock := newMockDB(t)
	p := NewPublisher(pool, mustDialect(t), testSource(), "stage_events_1_csv", 10, testLogger())

	// 4 of the 10 staged rows already exist; 2 of those changed.
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stage_events_1_csv AS stage`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`stage\.etl_row_hash != target\.etl_row_hash`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 10))

	inserts, updates, err := p.Publish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), inserts)
	assert.Equal(t, int64(2), updates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDLQCleanerNoStaleRecords(t *testing.T) {
	pool, mock := newMockDB(t)
	c := NewDLQCleaner(pool, mustDialect(t), "events_1.csv", 7, 1000, testLogger())

	mock.ExpectQuery("SELECT CASE WHEN EXISTS").
		WithArgs("events_1.csv", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(0))

	require.NoError(t, c.Clean(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDLQCleanerDeletesInBatches(t *testing.T) {
	pool, mock := newMockDB(t)
	c := NewDLQCleaner(pool, mustDialect(t), "events_1.csv", 7, 1000, testLogger())

	mock.ExpectQuery("SELECT CASE WHEN EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectExec("DELETE FROM file_load_dlq").
		WithArgs("events_1.csv", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec("DELETE FROM file_load_dlq").
		WithArgs("events_1.csv", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 250))
	mock.ExpectExec("DELETE FROM file_load_dlq").
		WithArgs("events_1.csv", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.Clean(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

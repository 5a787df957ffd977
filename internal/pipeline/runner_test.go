package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/retry"
)

type fakeStore struct {
	content    string
	openErr    error
	archiveErr error

	archived  []string
	moved     []string
	deleted   []string
	listNames []string
}

func (f *fakeStore) List(context.Context) ([]string, error) { return f.listNames, nil }

func (f *fakeStore) Open(_ context.Context, filename string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(strings.NewReader(f.content)), nil
}

func (f *fakeStore) CopyToArchive(_ context.Context, filename string) error {
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.archived = append(f.archived, filename)
	return nil
}

func (f *fakeStore) MoveToDuplicates(_ context.Context, filename string) error {
	f.moved = append(f.moved, filename)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, filename string) error {
	f.deleted = append(f.deleted, filename)
	return nil
}

func (f *fakeStore) FilePath(filename string) string { return "/inbound/" + filename }

type fakeNotifier struct {
	calls      int
	filename   string
	logID      int64
	kind       fileerr.Kind
	recipients []string
	err        error
}

func (n *fakeNotifier) NotifyFileError(_ context.Context, filename string, logID int64, ferr *fileerr.Error, recipients []string) error {
	n.calls++
	n.filename = filename
	n.logID = logID
	n.kind = ferr.Kind
	n.recipients = recipients
	return n.err
}

// onceOnly keeps retry out of the way so expectations stay ordered.
var onceOnly = retry.Policy{Attempts: 1, InitialDelay: time.Millisecond, Multiplier: 1}

func newRunner(t *testing.T, store *fakeStore, notifier Notifier) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	pool, mock := newMockDB(t)
	r := NewRunner(RunnerConfig{
		Pool:      pool,
		Dialect:   mustDialect(t),
		Store:     store,
		Source:    testSource(),
		Filename:  "events_20240101.csv",
		BatchSize: 1000,
		Retry:     onceOnly,
		Notifier:  notifier,
	})
	r.logger = testLogger()
	return r, mock
}

func TestRunnerSuccess(t *testing.T) {
	store := &fakeStore{content: "event_id,amount\n1,10.50\n2,20.00\n"}
	r, mock := newRunner(t, store, nil)

	mock.ExpectExec("INSERT INTO file_load_log").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery("SELECT CASE WHEN EXISTS").
		WithArgs("events_20240101.csv").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(0))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DROP TABLE IF EXISTS stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT CASE WHEN COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"grain_unique"}).AddRow(1))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stage_events_20240101`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stage_events_20240101`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT CASE WHEN EXISTS").
		WithArgs("events_20240101.csv", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(0))
	mock.ExpectExec("DROP TABLE IF EXISTS stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))

	outcome := r.Run(context.Background())
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, []string{"events_20240101.csv"}, store.archived)
	assert.Equal(t, []string{"events_20240101.csv"}, store.deleted)
	assert.Empty(t, store.moved)
	assert.Equal(t, int64(2), r.log.RecordsRead.Int64)
	assert.Equal(t, int64(2), r.log.RecordsWrittenToStage.Int64)
	assert.Equal(t, int64(0), r.log.ValidationErrors.Int64)
	assert.True(t, r.log.Success.Bool)
	assert.Equal(t, db.OutcomeSuccess, r.log.OutcomeCategory.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerSkipsDuplicateFile(t *testing.T) {
	store := &fakeStore{content: "event_id,amount\n1,10.50\n"}
	r, mock := newRunner(t, store, nil)

	mock.ExpectExec("INSERT INTO file_load_log").
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectQuery("SELECT CASE WHEN EXISTS").
		WithArgs("events_20240101.csv").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))

	outcome := r.Run(context.Background())
	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Equal(t, []string{"events_20240101.csv"}, store.moved)
	assert.Equal(t, []string{"events_20240101.csv"}, store.deleted)
	assert.Empty(t, store.archived)

	// Neither loaded nor failed: success stays null on the log row.
	assert.False(t, r.log.Success.Valid)
	assert.True(t, r.log.DuplicateSkipped.Bool)
	assert.Equal(t, db.OutcomeDuplicate, r.log.OutcomeCategory.String)
	assert.Equal(t, string(fileerr.KindDuplicateFile), r.log.ErrorType.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerUnexpectedFailure(t *testing.T) {
	store := &fakeStore{
		content:    "event_id,amount\n1,10.50\n",
		archiveErr: errors.New("disk full"),
	}
	r, mock := newRunner(t, store, nil)

	mock.ExpectExec("INSERT INTO file_load_log").
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectQuery("SELECT CASE WHEN EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(0))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))

	outcome := r.Run(context.Background())
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Contains(t, outcome.ErrorDetail, "disk full")
	assert.Equal(t, []string{"events_20240101.csv"}, store.deleted)

	assert.False(t, r.log.Success.Bool)
	assert.Equal(t, "UnexpectedError", r.log.ErrorType.String)
	assert.Equal(t, db.OutcomeFailed, r.log.OutcomeCategory.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerHandledFailureNotifies(t *testing.T) {
	// The header is missing the amount column, a failure the feed
	// owner can fix.
	store := &fakeStore{content: "event_id\n1\n"}
	notifier := &fakeNotifier{}
	r, mock := newRunner(t, store, notifier)
	r.src.NotificationEmails = []string{"owner@example.com"}

	mock.ExpectExec("INSERT INTO file_load_log").
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectQuery("SELECT CASE WHEN EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(0))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DROP TABLE IF EXISTS stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))

	outcome := r.Run(context.Background())
	assert.Equal(t, StatusHandled, outcome.Status)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, "events_20240101.csv", notifier.filename)
	assert.Equal(t, int64(10), notifier.logID)
	assert.Equal(t, fileerr.KindMissingColumns, notifier.kind)
	assert.Equal(t, []string{"owner@example.com"}, notifier.recipients)

	assert.False(t, r.log.Success.Bool)
	assert.Equal(t, db.OutcomeHandledFailure, r.log.OutcomeCategory.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunnerNotifierErrorDowngradesToFailed(t *testing.T) {
	store := &fakeStore{content: "event_id\n1\n"}
	notifier := &fakeNotifier{err: errors.New("smtp unreachable")}
	r, mock := newRunner(t, store, notifier)
	r.src.NotificationEmails = []string{"owner@example.com"}

	mock.ExpectExec("INSERT INTO file_load_log").
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectQuery("SELECT CASE WHEN EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(0))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DROP TABLE IF EXISTS stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS stage_events_20240101").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE file_load_log").WillReturnResult(sqlmock.NewResult(0, 1))

	outcome := r.Run(context.Background())
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, db.OutcomeFailed, r.log.OutcomeCategory.String)
	assert.NoError(t, mock.ExpectationsWereMet())
}

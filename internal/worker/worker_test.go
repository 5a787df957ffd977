package worker

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmgoffena13/etl-file-loader/internal/config"
	"github.com/cmgoffena13/etl-file-loader/internal/db"
	"github.com/cmgoffena13/etl-file-loader/internal/notify"
	"github.com/cmgoffena13/etl-file-loader/internal/pipeline"
	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlite"), mock
}

func mustDialect(t *testing.T) db.Dialect {
	t.Helper()
	d, err := db.ForName("sqlite")
	require.NoError(t, err)
	return d
}

type fakeStore struct {
	files    []string
	archived []string
	deleted  []string
}

func (f *fakeStore) List(context.Context) ([]string, error) { return f.files, nil }

func (f *fakeStore) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeStore) CopyToArchive(_ context.Context, filename string) error {
	f.archived = append(f.archived, filename)
	return nil
}

func (f *fakeStore) MoveToDuplicates(context.Context, string) error { return nil }

func (f *fakeStore) Delete(_ context.Context, filename string) error {
	f.deleted = append(f.deleted, filename)
	return nil
}

func (f *fakeStore) FilePath(filename string) string { return "/inbound/" + filename }

type fakeWebhook struct {
	calls   int
	level   notify.AlertLevel
	title   string
	text    string
	details map[string]any
}

func (f *fakeWebhook) Notify(_ context.Context, level notify.AlertLevel, title, text string, details map[string]any) error {
	f.calls++
	f.level = level
	f.title = title
	f.text = text
	f.details = details
	return nil
}

func testRegistry(t *testing.T, srcs ...*sources.Source) *sources.Registry {
	t.Helper()
	reg, err := sources.NewRegistry(srcs...)
	require.NoError(t, err)
	return reg
}

func eventSource(pattern string) *sources.Source {
	return &sources.Source{
		FilePattern: pattern,
		Format:      sources.FormatCSV,
		TableName:   "events",
		Grain:       []string{"event_id"},
		Schema: schema.Schema{
			{Name: "event_id", Type: schema.TypeInt},
		},
	}
}

func newProcessor(t *testing.T, pool *sqlx.DB, store *fakeStore, reg *sources.Registry, webhook SummaryNotifier) *Processor {
	t.Helper()
	return NewProcessor(ProcessorConfig{
		Pool:     pool,
		Dialect:  mustDialect(t),
		Registry: reg,
		Store:    store,
		Webhook:  webhook,
		Pipeline: config.PipelineConfig{BatchSize: 1000, Workers: 2},
		Retry:    config.RetryConfig{Attempts: 1, InitialDelay: 1, Multiplier: 1},
	})
}

func TestRunEmptyDirectory(t *testing.T) {
	pool, mock := newMockDB(t)
	webhook := &fakeWebhook{}
	p := newProcessor(t, pool, &fakeStore{}, testRegistry(t), webhook)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS file_load_log").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS file_load_dlq").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS ix_file_load_log_source_filename").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS ix_file_load_dlq_file").
		WillReturnResult(sqlmock.NewResult(0, 0))

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.True(t, summary.OK())
	assert.Equal(t, 0, webhook.calls, "empty run should not post a summary")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveUnmatchedFile(t *testing.T) {
	pool, mock := newMockDB(t)
	store := &fakeStore{}
	p := newProcessor(t, pool, store, testRegistry(t), nil)

	mock.ExpectExec("INSERT INTO file_load_log").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec("UPDATE file_load_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome := p.archiveUnmatched(context.Background(), "mystery.csv")
	assert.Equal(t, pipeline.StatusNoSource, outcome.Status)
	assert.Equal(t, []string{"mystery.csv"}, store.archived)
	assert.Equal(t, []string{"mystery.csv"}, store.deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFileAmbiguousMatch(t *testing.T) {
	pool, _ := newMockDB(t)
	first := eventSource("events_*.csv")
	second := eventSource("events_2024*.csv")
	second.TableName = "events_archive"
	p := newProcessor(t, pool, &fakeStore{}, testRegistry(t, first, second), nil)

	outcome := p.processFile(context.Background(), "events_20240101.csv")
	assert.Equal(t, pipeline.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.ErrorDetail, "multiple sources match")
}

func TestSummarize(t *testing.T) {
	s := summarize([]pipeline.Outcome{
		{Status: pipeline.StatusSuccess, Filename: "a.csv"},
		{Status: pipeline.StatusSuccess, Filename: "b.csv"},
		{Status: pipeline.StatusHandled, Filename: "c.csv"},
		{Status: pipeline.StatusSkipped, Filename: "d.csv"},
		{Status: pipeline.StatusNoSource, Filename: "e.csv"},
		{Status: pipeline.StatusFailed, Filename: "f.csv", ErrorDetail: "boom"},
	})
	assert.Equal(t, 6, s.Processed)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Handled)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.NoSource)
	assert.Equal(t, 1, s.Failed)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "f.csv", s.Failures[0].Filename)
	assert.False(t, s.OK())
}

func TestPostSummaryLevels(t *testing.T) {
	pool, _ := newMockDB(t)

	tests := []struct {
		name      string
		summary   Summary
		wantCalls int
		wantLevel notify.AlertLevel
	}{
		{"all succeeded", Summary{Processed: 2, Succeeded: 2}, 0, ""},
		{"handled failures", Summary{Processed: 2, Succeeded: 1, Handled: 1}, 0, ""},
		{"unmatched files", Summary{Processed: 2, Succeeded: 1, NoSource: 1}, 1, notify.LevelWarning},
		{"unhandled failures", Summary{
			Processed: 2, Succeeded: 1, Failed: 1,
			Failures: []pipeline.Outcome{{Filename: "f.csv", ErrorDetail: "boom"}},
		}, 1, notify.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			webhook := &fakeWebhook{}
			p := newProcessor(t, pool, &fakeStore{}, testRegistry(t), webhook)
			p.postSummary(context.Background(), tt.summary)

			require.Equal(t, tt.wantCalls, webhook.calls)
			if tt.wantCalls == 0 {
				return
			}
			assert.Equal(t, tt.wantLevel, webhook.level)
			assert.Equal(t, "FileLoader Run Summary", webhook.title)
			if tt.summary.Failed > 0 {
				assert.Contains(t, webhook.text, "f.csv: boom")
			}
		})
	}
}

func TestRunProcessesFiles(t *testing.T) {
	pool, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)
	store := &fakeStore{files: []string{"mystery.bin"}}
	webhook := &fakeWebhook{}
	p := newProcessor(t, pool, store, testRegistry(t, eventSource("events_*.csv")), webhook)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS file_load_log").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS file_load_dlq").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS ix_file_load_log_source_filename").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS ix_file_load_dlq_file").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS ix_events_source_filename").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The unsupported extension resolves to no source: archived, logged.
	mock.ExpectExec("INSERT INTO file_load_log").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec("UPDATE file_load_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.NoSource)
	assert.True(t, summary.OK())
	assert.Equal(t, 1, webhook.calls)
	assert.Equal(t, notify.LevelWarning, webhook.level)
	assert.Equal(t, []string{"mystery.bin"}, store.archived)
	assert.NoError(t, mock.ExpectationsWereMet())
}

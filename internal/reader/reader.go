// Package reader streams raw records out of inbound files. Each format
// produces the same shape: batches of maps keyed by the column names
// the file itself uses, with values as the file presented them.
package reader

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

// Batch is a slice of raw records. Keys are file column names; the
// validator renames them to schema names downstream.
type Batch []map[string]any

// Reader streams a single file. Read pushes batches to emit and stops
// on the first emit error, so downstream failures release the stream
// promptly.
type Reader interface {
	Read(ctx context.Context, emit func(Batch) error) error
	// RowsRead reports how many records Read produced so far.
	RowsRead() int64
	// StartingRowNumber is the file row number of the first record,
	// accounting for headers and skipped rows.
	StartingRowNumber() int
}

// OpenFunc opens the underlying byte stream for the file.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// New picks a reader for the source's declared format.
func New(src *sources.Source, open OpenFunc, filename string, batchSize int) (Reader, error) {
	switch src.Format {
	case sources.FormatCSV:
		return newCSVReader(src, open, filename, batchSize), nil
	case sources.FormatExcel:
		return newExcelReader(src, open, filename, batchSize), nil
	case sources.FormatJSON:
		return newJSONReader(src, open, filename, batchSize), nil
	case sources.FormatParquet:
		return newParquetReader(src, open, filename, batchSize), nil
	default:
		return nil, fmt.Errorf("reader: unsupported format %q", src.Format)
	}
}

// validateFields checks that every schema column appears in the file,
// case-insensitively, and reports the required and missing sets sorted
// for stable messages.
func validateFields(src *sources.Source, filename string, actual []string) error {
	present := make(map[string]bool, len(actual))
	for _, f := range actual {
		present[strings.ToLower(f)] = true
	}
	required := src.Schema.FileNames()
	var missing []string
	for _, f := range required {
		if !present[strings.ToLower(f)] {
			missing = append(missing, strings.ToLower(f))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	lowered := make([]string, len(required))
	for i, f := range required {
		lowered[i] = strings.ToLower(f)
	}
	sort.Strings(lowered)
	sort.Strings(missing)
	return fileerr.New(fileerr.KindMissingColumns, map[string]any{
		"source_filename": filename,
		"required_fields": strings.Join(lowered, ", "),
		"missing_fields":  strings.Join(missing, ", "),
	})
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

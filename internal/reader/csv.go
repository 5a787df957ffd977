package reader

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

type csvReader struct {
	src       *sources.Source
	open      OpenFunc
	filename  string
	batchSize int
	rowsRead  int64
}

func newCSVReader(src *sources.Source, open OpenFunc, filename string, batchSize int) *csvReader {
	return &csvReader{src: src, open: open, filename: filename, batchSize: batchSize}
}

// StartingRowNumber accounts for the header row: the first data row of
// a CSV is file row 2, plus any configured skip.
func (r *csvReader) StartingRowNumber() int { return 2 + r.src.SkipRows }

func (r *csvReader) RowsRead() int64 { return r.rowsRead }

func (r *csvReader) Read(ctx context.Context, emit func(Batch) error) error {
	stream, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	var body io.Reader = stream
	if strings.HasSuffix(strings.ToLower(r.filename), ".gz") {
		gz, err := gzip.NewReader(stream)
		if err != nil {
			return fmt.Errorf("gunzip %s: %w", r.filename, err)
		}
		defer gz.Close()
		body = gz
	}

	cr := csv.NewReader(body)
	cr.Comma = r.src.DelimiterOrDefault()
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return fileerr.New(fileerr.KindMissingHeader, map[string]any{
			"source_filename": r.filename,
		})
	}
	if err != nil {
		return fmt.Errorf("read header of %s: %w", r.filename, err)
	}
	if blankHeader(header) {
		return fileerr.New(fileerr.KindMissingHeader, map[string]any{
			"source_filename": r.filename,
		})
	}
	columns := make([]string, len(header))
	copy(columns, header)
	if err := validateFields(r.src, r.filename, columns); err != nil {
		return err
	}

	batch := make(Batch, 0, r.batchSize)
	skipped := 0
	for {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", r.filename, err)
		}
		if skipped < r.src.SkipRows {
			skipped++
			continue
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(row) {
				record[col] = row[i]
			} else {
				record[col] = ""
			}
		}
		batch = append(batch, record)
		r.rowsRead++
		if len(batch) == r.batchSize {
			if err := emit(batch); err != nil {
				return err
			}
			batch = make(Batch, 0, r.batchSize)
		}
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

func blankHeader(header []string) bool {
	for _, h := range header {
		if strings.TrimSpace(h) != "" {
			return false
		}
	}
	return true
}

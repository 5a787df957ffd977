package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

type parquetReader struct {
	src       *sources.Source
	open      OpenFunc
	filename  string
	batchSize int
	rowsRead  int64
}

func newParquetReader(src *sources.Source, open OpenFunc, filename string, batchSize int) *parquetReader {
	return &parquetReader{src: src, open: open, filename: filename, batchSize: batchSize}
}

// StartingRowNumber is 1: parquet has no header row in the file body.
func (r *parquetReader) StartingRowNumber() int { return 1 }

func (r *parquetReader) RowsRead() int64 { return r.rowsRead }

func (r *parquetReader) Read(ctx context.Context, emit func(Batch) error) error {
	stream, err := r.open(ctx)
	if err != nil {
		return err
	}
	// Parquet needs random access to the footer, so buffer the file.
	raw, err := io.ReadAll(stream)
	stream.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", r.filename, err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("open parquet %s: %w", r.filename, err)
	}
	if file.NumRows() == 0 {
		return fileerr.New(fileerr.KindNoDataInFile, map[string]any{
			"source_filename": r.filename,
		})
	}

	columns := file.Schema().Columns()
	names := make([]string, len(columns))
	for i, path := range columns {
		names[i] = strings.Join(path, "_")
	}
	if len(names) == 0 || blankHeader(names) {
		return fileerr.New(fileerr.KindMissingHeader, map[string]any{
			"source_filename": r.filename,
		})
	}
	if err := validateFields(r.src, r.filename, names); err != nil {
		return err
	}

	fieldTypes := make(map[int]schema.FieldType, len(names))
	for i, name := range names {
		if f, ok := r.src.Schema.Field(strings.ToLower(name)); ok {
			fieldTypes[i] = f.Type
		}
	}

	batch := make(Batch, 0, r.batchSize)
	buf := make([]parquet.Row, r.batchSize)
	for _, group := range file.RowGroups() {
		rows := group.Rows()
		for {
			if err := checkCtx(ctx); err != nil {
				rows.Close()
				return err
			}
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				record := make(map[string]any, len(names))
				for _, value := range row {
					col := value.Column()
					record[names[col]] = parquetValue(value, fieldTypes[col])
				}
				batch = append(batch, record)
				r.rowsRead++
				if len(batch) == r.batchSize {
					if emitErr := emit(batch); emitErr != nil {
						rows.Close()
						return emitErr
					}
					batch = make(Batch, 0, r.batchSize)
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return fmt.Errorf("read parquet %s: %w", r.filename, err)
			}
		}
		rows.Close()
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

// parquetValue converts a column value into the plain form the
// validator expects. Date columns arrive as days since the Unix epoch
// and timestamp columns as milliseconds, per the parquet logical types.
func parquetValue(v parquet.Value, ft schema.FieldType) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		if ft == schema.TypeDate {
			return time.Unix(0, 0).UTC().AddDate(0, 0, int(v.Int32())).Format("2006-01-02")
		}
		return int64(v.Int32())
	case parquet.Int64:
		if ft == schema.TypeDateTime {
			return time.UnixMilli(v.Int64()).UTC().Format(time.RFC3339)
		}
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

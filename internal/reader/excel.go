package reader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/schema"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

// excelEpoch is Excel's serial date zero, offset for the 1900 leap year
// bug so serial 1 lands on 1900-01-01.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

type excelReader struct {
	src       *sources.Source
	open      OpenFunc
	filename  string
	batchSize int
	rowsRead  int64
}

func newExcelReader(src *sources.Source, open OpenFunc, filename string, batchSize int) *excelReader {
	return &excelReader{src: src, open: open, filename: filename, batchSize: batchSize}
}

// StartingRowNumber accounts for the header row, same as CSV.
func (r *excelReader) StartingRowNumber() int { return 2 + r.src.SkipRows }

func (r *excelReader) RowsRead() int64 { return r.rowsRead }

func (r *excelReader) Read(ctx context.Context, emit func(Batch) error) error {
	stream, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	book, err := excelize.OpenReader(stream)
	if err != nil {
		return fmt.Errorf("open workbook %s: %w", r.filename, err)
	}
	defer book.Close()

	sheet := r.src.SheetName
	if sheet == "" {
		sheet = book.GetSheetName(0)
	}

	rows, err := book.Rows(sheet)
	if err != nil {
		return fmt.Errorf("sheet %q of %s: %w", sheet, r.filename, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return fileerr.New(fileerr.KindNoDataInFile, map[string]any{
			"source_filename": r.filename,
		})
	}
	header, err := rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("read header of %s: %w", r.filename, err)
	}
	if blankHeader(header) {
		return fileerr.New(fileerr.KindMissingHeader, map[string]any{
			"source_filename": r.filename,
		})
	}
	if err := validateFields(r.src, r.filename, header); err != nil {
		return err
	}

	dateFields := r.dateFieldColumns(header)

	batch := make(Batch, 0, r.batchSize)
	skipped := 0
	sawData := false
	for rows.Next() {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return fmt.Errorf("read %s: %w", r.filename, err)
		}
		if skipped < r.src.SkipRows {
			skipped++
			continue
		}
		sawData = true
		record := make(map[string]any, len(header))
		for i, col := range header {
			var raw string
			if i < len(cells) {
				raw = cells[i]
			}
			if ft, ok := dateFields[i]; ok {
				record[col] = convertSerialDate(raw, ft)
			} else {
				record[col] = raw
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
	if err := rows.Error(); err != nil {
		return fmt.Errorf("read %s: %w", r.filename, err)
	}
	if !sawData {
		return fileerr.New(fileerr.KindNoDataInFile, map[string]any{
			"source_filename": r.filename,
		})
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

// dateFieldColumns maps header column index to the schema field type for
// date-like fields, so serial numbers get converted.
func (r *excelReader) dateFieldColumns(header []string) map[int]schema.FieldType {
	byName := make(map[string]schema.FieldType)
	for _, f := range r.src.Schema {
		if f.Type.IsDateLike() {
			byName[strings.ToLower(f.FileName())] = f.Type
		}
	}
	cols := make(map[int]schema.FieldType)
	for i, h := range header {
		if ft, ok := byName[strings.ToLower(h)]; ok {
			cols[i] = ft
		}
	}
	return cols
}

// convertSerialDate maps an Excel serial number to a rendered date or
// datetime. Non-numeric cells pass through untouched so already-textual
// dates still reach the validator.
func convertSerialDate(raw string, ft schema.FieldType) any {
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	days := int(serial)
	frac := serial - float64(days)
	t := excelEpoch.AddDate(0, 0, days)
	if frac > 0 {
		t = t.Add(time.Duration(int64(frac*86400)) * time.Second)
	}
	if ft == schema.TypeDate {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// Package validate turns raw file records into typed rows or DLQ
// records. Every record lands in exactly one of the two.
package validate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ohler55/ojg/oj"

	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/reader"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

const sampleErrorLimit = 5

// FieldError describes one failed field of a record, spoken in file
// column names so the owner of the feed can find the cell.
type FieldError struct {
	ColumnName  string `json:"column_name"`
	ColumnValue any    `json:"column_value"`
	ErrorType   string `json:"error_type"`
	ErrorMsg    string `json:"error_msg"`
}

// DLQRecord is a rejected record bound for the dead letter queue
// table. The JSON payloads are pre-serialized strings so every dialect
// stores them the same way.
type DLQRecord struct {
	SourceFilename   string
	FileRowNumber    int64
	FileRecordData   string
	ValidationErrors string
	FileLoadLogID    int64
	TargetTableName  string
	FailedAt         time.Time
}

// Result is the outcome for a single record: a typed row for staging
// or a DLQ record, never both.
type Result struct {
	OK  bool
	Row map[string]any
	DLQ *DLQRecord
}

type sampleError struct {
	fileRowNumber int64
	message       string
	record        map[string]any
}

// Validator validates one file's records. Not safe for concurrent use;
// each file worker owns its own.
type Validator struct {
	src               *sources.Source
	fieldMapping      map[string]string
	reverseMapping    map[string]string
	sortedKeys        []string
	sourceFilename    string
	logID             int64
	startingRowNumber int
	recordsValidated  int64
	validationErrors  int64
	samples           []sampleError
}

func NewValidator(src *sources.Source, sourceFilename string, startingRowNumber int, logID int64) *Validator {
	return &Validator{
		src:               src,
		fieldMapping:      src.Schema.FieldMapping(),
		reverseMapping:    src.Schema.ReverseFieldMapping(),
		sortedKeys:        src.Schema.SortedNames(),
		sourceFilename:    sourceFilename,
		logID:             logID,
		startingRowNumber: startingRowNumber,
	}
}

// ValidateBatch validates a batch in order, preserving one Result per
// input record.
func (v *Validator) ValidateBatch(batch reader.Batch) []Result {
	results := make([]Result, len(batch))
	for i, record := range batch {
		results[i] = v.validateRecord(record)
	}
	return results
}

func (v *Validator) validateRecord(raw map[string]any) Result {
	v.recordsValidated++
	fileRowNumber := int64(v.startingRowNumber) + v.recordsValidated - 1

	// Rename file columns to schema names, dropping columns the schema
	// does not know about.
	record := make(map[string]any, len(raw))
	for key, value := range raw {
		if name, ok := v.fieldMapping[strings.ToLower(key)]; ok {
			record[name] = value
		}
	}

	row := make(map[string]any, len(v.src.Schema)+3)
	var errs []FieldError
	for _, f := range v.src.Schema {
		typed, ferr := coerce(f, record[f.Name])
		if ferr != nil {
			errs = append(errs, *ferr)
			continue
		}
		row[f.Name] = typed
	}

	if len(errs) > 0 {
		v.validationErrors++
		dlq := v.newDLQRecord(record, errs, fileRowNumber)
		if len(v.samples) < sampleErrorLimit {
			v.samples = append(v.samples, sampleError{
				fileRowNumber: fileRowNumber,
				message:       dlq.ValidationErrors,
				record:        record,
			})
		}
		return Result{DLQ: dlq}
	}

	row["etl_row_hash"] = RowHash(row, v.sortedKeys)
	row["source_filename"] = v.sourceFilename
	row["file_load_log_id"] = v.logID
	return Result{OK: true, Row: row}
}

// newDLQRecord keeps the failing fields plus the grain fields, keyed
// by the file's own column names so the record is identifiable.
func (v *Validator) newDLQRecord(record map[string]any, errs []FieldError, fileRowNumber int64) *DLQRecord {
	keep := make(map[string]bool, len(errs)+len(v.src.Grain))
	for _, e := range errs {
		keep[e.ColumnName] = true
	}
	for _, g := range v.src.Grain {
		keep[v.reverseMapping[g]] = true
	}

	data := make(map[string]any, len(keep))
	for name, value := range record {
		fileName := v.reverseMapping[name]
		if keep[fileName] {
			data[fileName] = value
		}
	}

	return &DLQRecord{
		SourceFilename:   v.sourceFilename,
		FileRowNumber:    fileRowNumber,
		FileRecordData:   oj.JSON(data, &oj.Options{Sort: true}),
		ValidationErrors: serializeFieldErrors(errs),
		FileLoadLogID:    v.logID,
		TargetTableName:  v.src.TableName,
		FailedAt:         time.Now().UTC(),
	}
}

func serializeFieldErrors(errs []FieldError) string {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].ColumnName < errs[j].ColumnName })
	items := make([]any, len(errs))
	for i, e := range errs {
		items[i] = map[string]any{
			"column_name":  e.ColumnName,
			"column_value": e.ColumnValue,
			"error_type":   e.ErrorType,
			"error_msg":    e.ErrorMsg,
		}
	}
	return oj.JSON(items, &oj.Options{Sort: true})
}

// RecordsValidated reports the number of records seen so far.
func (v *Validator) RecordsValidated() int64 { return v.recordsValidated }

// ValidationErrorCount reports how many of them failed.
func (v *Validator) ValidationErrorCount() int64 { return v.validationErrors }

// CheckThreshold fails the file when the error rate strictly exceeds
// the source's tolerance. A zero threshold rejects any error at all.
func (v *Validator) CheckThreshold() error {
	if v.recordsValidated == 0 || v.validationErrors == 0 {
		return nil
	}
	rate := float64(v.validationErrors) / float64(v.recordsValidated)
	if rate <= v.src.ValidationErrorThreshold {
		return nil
	}
	var b strings.Builder
	b.WriteString("Sample validation failure records:\n")
	for i, s := range v.samples {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Row %d: %s - Record: %s", s.fileRowNumber, s.message, oj.JSON(s.record, &oj.Options{Sort: true}))
	}
	return fileerr.New(fileerr.KindValidationThresholdExceeded, map[string]any{
		"source_filename":      v.sourceFilename,
		"truncated_error_rate": math.Round(rate*100) / 100,
		"threshold":            v.src.ValidationErrorThreshold,
		"records_validated":    v.recordsValidated,
		"validation_errors":    v.validationErrors,
		"additional_details":   b.String(),
	})
}

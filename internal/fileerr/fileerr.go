// Package fileerr defines the file-notifiable error family: per-file,
// non-retriable failures that imply user action on the file and are
// delivered via email when the source declares recipients.
package fileerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a file-notifiable failure. The kind string is recorded
// verbatim as error_type in the lineage log.
type Kind string

const (
	KindDuplicateFile               Kind = "DuplicateFileError"
	KindMissingHeader               Kind = "MissingHeaderError"
	KindMissingColumns              Kind = "MissingColumnsError"
	KindNoDataInFile                Kind = "NoDataInFileError"
	KindGrainValidation             Kind = "GrainValidationError"
	KindAuditFailed                 Kind = "AuditFailedError"
	KindValidationThresholdExceeded Kind = "ValidationThresholdExceededError"
)

// Error is a structured file-notifiable failure. Values holds the
// key-value payload substituted into the kind's email template and
// carried into the summary webhook.
type Error struct {
	Kind   Kind
	Values map[string]any
}

// New creates a file-notifiable error of the given kind.
func New(kind Kind, values map[string]any) *Error {
	if values == nil {
		values = map[string]any{}
	}
	return &Error{Kind: kind, Values: values}
}

func (e *Error) Error() string {
	if len(e.Values) == 0 {
		return string(e.Kind)
	}
	keys := make([]string, 0, len(e.Values))
	for k := range e.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Values[k]))
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(parts, " "))
}

// Title returns the human-readable failure name used in email subjects.
func (e *Error) Title() string {
	switch e.Kind {
	case KindDuplicateFile:
		return "Duplicate File Detected"
	case KindMissingHeader:
		return "Missing Header"
	case KindMissingColumns:
		return "Missing Columns"
	case KindNoDataInFile:
		return "No Data In File"
	case KindGrainValidation:
		return "Grain Validation Error"
	case KindAuditFailed:
		return "Audit Failed"
	case KindValidationThresholdExceeded:
		return "Validation Threshold Exceeded"
	default:
		return string(e.Kind)
	}
}

// emailTemplates holds the fixed body text per error kind. Placeholders in
// braces are substituted from Values by EmailMessage.
var emailTemplates = map[Kind]string{
	KindDuplicateFile: "The file {source_filename} has already been processed and has been moved to the duplicates directory.\n\n" +
		"To reprocess this file:\n" +
		"1. Existing records need to be removed from the target table where source_filename = '{source_filename}'\n" +
		"2. Move the file from the duplicates directory back to the processing directory",
	KindMissingHeader: "No usable header row was found in file: {source_filename}. " +
		"The file has been archived.",
	KindMissingColumns: "File {source_filename} is missing required columns.\n" +
		"Required columns: {required_fields}\n" +
		"Missing columns: {missing_fields}",
	KindNoDataInFile: "No data records were found in file: {source_filename}. " +
		"The file has been archived.",
	KindGrainValidation: "Grain uniqueness check failed for file: {source_filename}\n" +
		"Grain columns: {grain_aliases_formatted}\n" +
		"Stage table: {stage_table_name}\n" +
		"{additional_details}",
	KindAuditFailed: "Audit checks failed for file: {source_filename}\n" +
		"Table: {stage_table_name}\n" +
		"Failed audits: {failed_audits_formatted}",
	KindValidationThresholdExceeded: "Validation error rate ({truncated_error_rate}) exceeds threshold " +
		"({threshold}) for file: {source_filename}. " +
		"Total Records Processed: {records_validated}, " +
		"Failed Records: {validation_errors}.\n\n" +
		"{additional_details}",
}

// EmailMessage renders the kind's email body, substituting {placeholders}
// from Values. Placeholders with no matching value are left in place so a
// misconfigured template is visible rather than silently blank.
func (e *Error) EmailMessage() string {
	body := emailTemplates[e.Kind]
	for k, v := range e.Values {
		body = strings.ReplaceAll(body, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return body
}

// As extracts a file-notifiable error from an error chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Is reports whether err is any file-notifiable error. These are never
// retried: they describe the file, not a transient condition.
func Is(err error) bool {
	_, ok := As(err)
	return ok
}

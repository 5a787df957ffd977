// Package sources holds the declarative catalog of data sources and the
// registry that resolves an incoming filename to at most one of them.
package sources

import (
	"fmt"
	"path"
	"strings"

	"github.com/cmgoffena13/etl-file-loader/internal/schema"
)

// Format identifies the file format a source declares.
type Format int

const (
	FormatCSV Format = iota
	FormatExcel
	FormatJSON
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatExcel:
		return "excel"
	case FormatJSON:
		return "json"
	case FormatParquet:
		return "parquet"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Source is one declared data source: a filename pattern, a typed record
// schema, the target table the records merge into, and the per-source
// quality controls.
type Source struct {
	// FilePattern is a case-insensitive glob matched against the basename.
	FilePattern string

	// Format the files arrive in.
	Format Format

	// Schema is the typed record schema.
	Schema schema.Schema

	// TableName is the target warehouse table.
	TableName string

	// Grain is the list of schema field names that uniquely identify a row.
	Grain []string

	// AuditQuery is an optional SQL template with a {table} placeholder.
	// It must project one row of named integer columns, 1 = pass, 0 = fail.
	AuditQuery string

	// ValidationErrorThreshold is the tolerated error rate (0.0 - 1.0).
	// Comparison is strict greater-than.
	ValidationErrorThreshold float64

	// NotificationEmails receive file-notifiable failure emails.
	NotificationEmails []string

	// CSV options.
	Delimiter rune
	SkipRows  int

	// Excel options.
	SheetName string

	// JSON options: dotted path to the record array, "" = document root.
	ArrayPath string
}

// Validate checks that the source declaration is internally consistent:
// the schema is well formed and every grain name is a schema field.
func (s *Source) Validate() error {
	if s.FilePattern == "" {
		return fmt.Errorf("source %s: empty file pattern", s.TableName)
	}
	if s.TableName == "" {
		return fmt.Errorf("source with pattern %q: empty table name", s.FilePattern)
	}
	if err := s.Schema.Validate(); err != nil {
		return fmt.Errorf("source %s: %w", s.TableName, err)
	}
	if len(s.Grain) == 0 {
		return fmt.Errorf("source %s: empty grain", s.TableName)
	}
	for _, g := range s.Grain {
		if _, ok := s.Schema.Field(g); !ok {
			return fmt.Errorf("source %s: grain column %q is not a schema field (available: %s)",
				s.TableName, g, strings.Join(s.Schema.SortedNames(), ", "))
		}
	}
	if s.ValidationErrorThreshold < 0 || s.ValidationErrorThreshold > 1 {
		return fmt.Errorf("source %s: validation error threshold %v outside 0.0-1.0",
			s.TableName, s.ValidationErrorThreshold)
	}
	return nil
}

// DelimiterOrDefault returns the declared CSV delimiter, defaulting to a
// comma.
func (s *Source) DelimiterOrDefault() rune {
	if s.Delimiter == 0 {
		return ','
	}
	return s.Delimiter
}

// GrainAliases returns the external file names of the grain columns.
func (s *Source) GrainAliases() []string {
	rev := s.Schema.ReverseFieldMapping()
	out := make([]string, len(s.Grain))
	for i, g := range s.Grain {
		out[i] = rev[g]
	}
	return out
}

// Basename extracts the filename from a local path or a URI, dropping any
// query string or fragment.
func Basename(location string) string {
	// Windows-origin uploads carry backslash paths.
	location = strings.ReplaceAll(location, `\`, "/")
	if i := strings.Index(location, "://"); i >= 0 {
		rest := location[i+3:]
		rest, _, _ = strings.Cut(rest, "?")
		rest, _, _ = strings.Cut(rest, "#")
		return path.Base(rest)
	}
	return path.Base(location)
}

// FileExtension returns the lowercased extension of a filename, combining
// a trailing .gz with the prior suffix (sales.csv.gz -> .csv.gz).
func FileExtension(filename string) string {
	name := strings.ToLower(Basename(filename))
	ext := path.Ext(name)
	if ext == ".gz" {
		inner := path.Ext(strings.TrimSuffix(name, ext))
		return inner + ext
	}
	return ext
}

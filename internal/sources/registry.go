package sources

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// formatForExtension maps supported file extensions to the format whose
// reader handles them. A trailing .gz is a compression suffix combined
// with the prior suffix by FileExtension.
var formatForExtension = map[string]Format{
	".csv":     FormatCSV,
	".csv.gz":  FormatCSV,
	".tsv":     FormatCSV,
	".xlsx":    FormatExcel,
	".xlsm":    FormatExcel,
	".json":    FormatJSON,
	".json.gz": FormatJSON,
	".parquet": FormatParquet,
}

// SupportedExtensions returns the extensions the registry can resolve.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(formatForExtension))
	for ext := range formatForExtension {
		exts = append(exts, ext)
	}
	return exts
}

// AmbiguousMatchError reports that a filename matched more than one
// declared source. This is a configuration fault, fatal for the file.
type AmbiguousMatchError struct {
	Filename string
	Tables   []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("multiple sources match file %q: %s",
		e.Filename, strings.Join(e.Tables, ", "))
}

// Registry resolves filenames to declared sources. It is populated once
// at startup and read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	sources []*Source
}

// NewRegistry validates and registers the given sources.
func NewRegistry(srcs ...*Source) (*Registry, error) {
	r := &Registry{}
	for _, s := range srcs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		r.sources = append(r.sources, s)
	}
	return r, nil
}

// Sources returns all registered sources.
func (r *Registry) Sources() []*Source {
	return r.sources
}

// Resolve finds the declared source for a filename. It returns nil when
// the extension is unsupported or no source pattern matches (the caller
// archives and logs the file), and an AmbiguousMatchError when two or
// more sources match.
func (r *Registry) Resolve(location string) (*Source, error) {
	ext := FileExtension(location)
	format, ok := formatForExtension[ext]
	if !ok {
		slog.Warn("unsupported file extension",
			"filename", Basename(location),
			"extension", ext,
			"supported", SupportedExtensions())
		return nil, nil
	}

	basename := strings.ToLower(Basename(location))
	var matches []*Source
	for _, s := range r.sources {
		if s.Format != format {
			continue
		}
		ok, err := doublestar.Match(strings.ToLower(s.FilePattern), basename)
		if err != nil {
			return nil, fmt.Errorf("bad file pattern %q for source %s: %w",
				s.FilePattern, s.TableName, err)
		}
		if ok {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		slog.Warn("no source configuration found for file", "filename", Basename(location))
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		tables := make([]string, len(matches))
		for i, s := range matches {
			tables[i] = s.TableName
		}
		return nil, &AmbiguousMatchError{Filename: Basename(location), Tables: tables}
	}
}

// Package schema defines the declarative record schema consumed uniformly
// by the DDL generator, the validator, the row fingerprint, and the reader's
// alias resolution.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType represents the expected data type for a record field.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeDecimal
	TypeDate
	TypeDateTime
	TypeEmail
)

// String returns the lowercase type tag.
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeDecimal:
		return "decimal"
	case TypeDate:
		return "date"
	case TypeDateTime:
		return "datetime"
	case TypeEmail:
		return "email"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// IsDateLike reports whether values of this type are calendar-valued.
// Readers use this to decide which columns get serial-date conversion.
func (t FieldType) IsDateLike() bool {
	return t == TypeDate || t == TypeDateTime
}

// Field defines one column of a record schema.
type Field struct {
	Name     string    // schema field name, also the warehouse column name
	Alias    string    // external name used in the file, if different
	Type     FieldType // expected data type
	Optional bool      // empty or absent values become NULL
	MaxLen   int       // maximum length for string-valued fields, 0 = unbounded
}

// FileName returns the name this field carries in the source file:
// the external alias if declared, else the field name.
func (f Field) FileName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Schema is an ordered set of fields.
type Schema []Field

// Names returns the schema field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// SortedNames returns the schema field names in ascending lexicographic
// order. This is the canonical field order for the row fingerprint.
func (s Schema) SortedNames() []string {
	names := s.Names()
	sort.Strings(names)
	return names
}

// FileNames returns the external names expected in the file header,
// in declaration order.
func (s Schema) FileNames() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.FileName()
	}
	return names
}

// Field returns the field with the given schema name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldMapping maps lowercased file names (alias if declared, else field
// name) to schema field names. The validator uses it to rename raw record
// keys; unknown keys are dropped.
func (s Schema) FieldMapping() map[string]string {
	m := make(map[string]string, len(s))
	for _, f := range s {
		m[strings.ToLower(f.FileName())] = f.Name
	}
	return m
}

// ReverseFieldMapping maps schema field names back to their external
// names, for DLQ records and error messages that reference the file's
// own column names.
func (s Schema) ReverseFieldMapping() map[string]string {
	m := make(map[string]string, len(s))
	for _, f := range s {
		m[f.Name] = f.FileName()
	}
	return m
}

// Validate checks structural invariants: non-empty, unique names, unique
// file names.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]bool, len(s))
	seenFile := make(map[string]bool, len(s))
	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("schema field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate schema field %q", f.Name)
		}
		seen[f.Name] = true
		lower := strings.ToLower(f.FileName())
		if seenFile[lower] {
			return fmt.Errorf("duplicate file column %q", f.FileName())
		}
		seenFile[lower] = true
	}
	return nil
}

package validate

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/cmgoffena13/etl-file-loader/internal/schema"
)

var (
	dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006", time.RFC3339}

	datetimeLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
)

// coerce converts a raw file value into the typed form a field wants.
// The returned error carries a pydantic-style error type string that
// lands in the DLQ record.
func coerce(f schema.Field, value any) (any, *FieldError) {
	if isEmpty(value) {
		if f.Optional {
			return nil, nil
		}
		return nil, fieldError(f, value, "missing", "field required")
	}

	switch f.Type {
	case schema.TypeString:
		s := asString(value)
		if f.MaxLen > 0 && len(s) > f.MaxLen {
			return nil, fieldError(f, value, "string_too_long",
				fmt.Sprintf("string should have at most %d characters", f.MaxLen))
		}
		return s, nil

	case schema.TypeInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
			return nil, fieldError(f, value, "int_parsing", "input should be a valid integer")
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fieldError(f, value, "int_parsing", "input should be a valid integer")
			}
			return n, nil
		}
		return nil, fieldError(f, value, "int_parsing", "input should be a valid integer")

	case schema.TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case string:
			x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fieldError(f, value, "float_parsing", "input should be a valid number")
			}
			return x, nil
		}
		return nil, fieldError(f, value, "float_parsing", "input should be a valid number")

	case schema.TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "t", "yes", "y", "1":
				return true, nil
			case "false", "f", "no", "n", "0":
				return false, nil
			}
		case int64:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
		}
		return nil, fieldError(f, value, "bool_parsing", "input should be a valid boolean")

	case schema.TypeDecimal:
		// Decimals stay textual so the database keeps exact precision.
		s := strings.TrimSpace(asString(value))
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, fieldError(f, value, "decimal_parsing", "input should be a valid decimal")
		}
		return s, nil

	case schema.TypeDate:
		s := strings.TrimSpace(asString(value))
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
		return nil, fieldError(f, value, "date_parsing", "input should be a valid date")

	case schema.TypeDateTime:
		s := strings.TrimSpace(asString(value))
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fieldError(f, value, "datetime_parsing", "input should be a valid datetime")

	case schema.TypeEmail:
		s := strings.TrimSpace(asString(value))
		if f.MaxLen > 0 && len(s) > f.MaxLen {
			return nil, fieldError(f, value, "string_too_long",
				fmt.Sprintf("string should have at most %d characters", f.MaxLen))
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return nil, fieldError(f, value, "value_error", "value is not a valid email address")
		}
		return s, nil
	}
	return nil, fieldError(f, value, "value_error", fmt.Sprintf("unsupported field type %s", f.Type))
}

func fieldError(f schema.Field, value any, errType, msg string) *FieldError {
	return &FieldError{
		ColumnName:  f.FileName(),
		ColumnValue: value,
		ErrorType:   errType,
		ErrorMsg:    msg,
	}
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func asString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

package target

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

var numericJunk = regexp.MustCompile(`[$,%\s]`)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
	"02-Jan-2006",
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CoerceValue converts one raw CSV field to a value the destination column
// accepts. Empty strings become NULL for every column type. A non-nil error
// means the field cannot represent the column's type at all.
func CoerceValue(raw string, dataType string) (any, error) {
	if raw == "" {
		return nil, nil
	}

	switch dataType {
	case "smallint", "integer", "bigint":
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid %s", raw, dataType)
		}
		return v, nil

	case "numeric", "decimal", "real", "double precision", "money":
		cleaned := numericJunk.ReplaceAllString(raw, "")
		if cleaned == "" {
			return nil, nil
		}
		// Parenthesized values are accounting-style negatives.
		if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
			cleaned = "-" + cleaned[1:len(cleaned)-1]
		}
		v, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid %s", raw, dataType)
		}
		return v, nil

	case "boolean":
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "t", "true", "yes", "y", "1":
			return true, nil
		case "f", "false", "no", "n", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a valid boolean", raw)

	case "date":
		s := strings.TrimSpace(raw)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return pgtype.Date{Time: t, Valid: true}, nil
			}
		}
		return nil, fmt.Errorf("%q is not a valid date", raw)

	case "timestamp without time zone", "timestamp with time zone":
		s := strings.TrimSpace(raw)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%q is not a valid timestamp", raw)

	default:
		// text, varchar, uuid, jsonb and friends take the raw string.
		return raw, nil
	}
}

// CoerceRow converts a full CSV record against the destination columns.
// Values and cols must be aligned index for index.
func CoerceRow(values []string, cols []Column) ([]any, error) {
	if len(values) != len(cols) {
		return nil, fmt.Errorf("record has %d fields, expected %d", len(values), len(cols))
	}
	out := make([]any, len(values))
	for i, raw := range values {
		v, err := CoerceValue(raw, cols[i].DataType)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", cols[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}

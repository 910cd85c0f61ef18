package rest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/pgx/schema"
)

const dateLayout = "2006-01-02"

// writeValues prepares the body of an insert or update of t. Date columns
// take `YYYY-MM-DD` or an ISO date-time whose time part is dropped; null or
// empty dates are left out. An empty string clears any other non-text
// column. On update, key columns other than foreign keys are left out as
// well.
func writeValues(t schema.Table, data map[string]any, update bool) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for key, value := range data {
		col, ok := t.Column(key)
		if !ok {
			return nil, fmt.Errorf("%w %q in %s", ErrUnknownColumn, key, t.Name)
		}
		if update && !coop.IsUpdatableColumn(key, t.PrimaryKeys) {
			continue
		}

		if col.IsDate() {
			d, err := dateValue(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if d == nil {
				continue
			}
			out[key] = *d
			continue
		}
		if value == "" && !col.IsText() {
			out[key] = nil
			continue
		}
		out[key] = plainValue(value)
	}
	return out, nil
}

// dateValue returns nil for null and empty values.
func dateValue(v any) (*time.Time, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		day, _, _ := strings.Cut(v, "T")
		d, err := time.Parse(dateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q", v)
		}
		return &d, nil
	}
	return nil, fmt.Errorf("invalid date %v", v)
}

// parseDate is dateValue for optional string fields of routine bodies.
func parseDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	return dateValue(*s)
}

// plainValue turns json.Number into int64 or float64 so that pgx can encode
// it for integer and numeric columns alike.
func plainValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

package rest

import (
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const timestampLayout = "2006-01-02 15:04:05"

// collectRows reads rows into JSON objects keyed by lower-case column name.
// Timestamps are rendered as `YYYY-MM-DD HH:MM:SS`. An empty result is an
// empty slice, never nil.
func collectRows(rows pgx.Rows) ([]map[string]any, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = strings.ToLower(fd.Name)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result = append(result, serializeRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func serializeRow(columns []string, values []any) map[string]any {
	row := make(map[string]any, len(columns))
	for i, name := range columns {
		v := values[i]
		if t, ok := v.(time.Time); ok {
			v = t.Format(timestampLayout)
		}
		row[name] = v
	}
	return row
}

package pgx

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNoColumns = errors.New("no columns to write")
	ErrNoWhere   = errors.New("no WHERE condition provided")
)

// Operators accepted in a Filter, keyed by their query-string spelling.
var Operators = map[string]string{
	"eq":    "=",
	"neq":   "<>",
	"gt":    ">",
	"gte":   ">=",
	"lt":    "<",
	"lte":   "<=",
	"like":  "LIKE",
	"ilike": "ILIKE",
	"in":    "IN",
	"is":    "IS",
}

// Filter is a single `column op value` condition. Filters on the same
// column are OR-ed, different columns are AND-ed.
type Filter struct {
	Column string
	Op     string // key of Operators
	Value  any    // []any for "in"; "null", "true", "false" for "is"
}

// Order is one ORDER BY term.
type Order struct {
	Column     string
	Desc       bool
	NullsFirst *bool
}

// Select describes a read of one table or view.
type Select struct {
	Columns []string
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
}

type queryBuilder struct {
	schema string
	table  string
	args   []any
}

func newQueryBuilder(schema, table string) *queryBuilder {
	if schema == "" {
		schema = "public"
	}
	return &queryBuilder{schema: schema, table: table}
}

func (qb *queryBuilder) bind(v any) string {
	qb.args = append(qb.args, v)
	return fmt.Sprintf("$%d", len(qb.args))
}

func (qb *queryBuilder) tableIdentifier() string {
	return pgx.Identifier{qb.schema, qb.table}.Sanitize()
}

func ident(col string) string {
	return pgx.Identifier{col}.Sanitize()
}

func (qb *queryBuilder) where(filters []Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}

	var cols []string
	byCol := make(map[string][]string)
	for _, f := range filters {
		cond, err := qb.condition(f)
		if err != nil {
			return "", err
		}
		if _, ok := byCol[f.Column]; !ok {
			cols = append(cols, f.Column)
		}
		byCol[f.Column] = append(byCol[f.Column], cond)
	}

	clauses := make([]string, 0, len(cols))
	for _, c := range cols {
		conds := byCol[c]
		if len(conds) == 1 {
			clauses = append(clauses, conds[0])
			continue
		}
		clauses = append(clauses, "("+strings.Join(conds, " OR ")+")")
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func (qb *queryBuilder) condition(f Filter) (string, error) {
	op, ok := Operators[f.Op]
	if !ok {
		return "", fmt.Errorf("unknown operator %q", f.Op)
	}
	col := ident(f.Column)

	switch f.Op {
	case "is":
		switch v := fmt.Sprint(f.Value); strings.ToLower(v) {
		case "null":
			return col + " IS NULL", nil
		case "true", "false", "unknown":
			return col + " IS " + strings.ToUpper(v), nil
		default:
			return "", fmt.Errorf("invalid value for is: %q", v)
		}
	case "in":
		values, ok := f.Value.([]any)
		if !ok || len(values) == 0 {
			return "", fmt.Errorf("in needs a non-empty list")
		}
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = qb.bind(v)
		}
		return col + " IN (" + strings.Join(ph, ", ") + ")", nil
	}
	return col + " " + op + " " + qb.bind(f.Value), nil
}

// BuildSelect renders a SELECT for q. Column names must already be validated
// by the caller; they are quoted but not checked here.
func BuildSelect(schema, table string, q Select) (string, []any, error) {
	qb := newQueryBuilder(schema, table)
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		sb.WriteString("*")
	} else {
		cols := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			cols[i] = ident(c)
		}
		sb.WriteString(strings.Join(cols, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(qb.tableIdentifier())

	where, err := qb.where(q.Filters)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(where)

	if len(q.Order) > 0 {
		terms := make([]string, len(q.Order))
		for i, o := range q.Order {
			t := ident(o.Column)
			if o.Desc {
				t += " DESC"
			} else {
				t += " ASC"
			}
			if o.NullsFirst != nil {
				if *o.NullsFirst {
					t += " NULLS FIRST"
				} else {
					t += " NULLS LAST"
				}
			}
			terms[i] = t
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + qb.bind(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET " + qb.bind(q.Offset))
	}
	return sb.String(), qb.args, nil
}

// BuildInsert renders an INSERT of data. Columns are emitted in sorted order
// so the statement text is stable.
func BuildInsert(schema, table string, data map[string]any, returning bool) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, ErrNoColumns
	}
	qb := newQueryBuilder(schema, table)

	keys := slices.Sorted(maps.Keys(data))
	cols := make([]string, len(keys))
	ph := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = ident(k)
		ph[i] = qb.bind(data[k])
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qb.tableIdentifier(), strings.Join(cols, ", "), strings.Join(ph, ", "))
	if returning {
		sql += " RETURNING *"
	}
	return sql, qb.args, nil
}

// BuildUpdate renders UPDATE ... SET data WHERE filters.
func BuildUpdate(schema, table string, data map[string]any, filters []Filter, returning bool) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, ErrNoColumns
	}
	if len(filters) == 0 {
		return "", nil, ErrNoWhere
	}
	qb := newQueryBuilder(schema, table)

	keys := slices.Sorted(maps.Keys(data))
	sets := make([]string, len(keys))
	for i, k := range keys {
		sets[i] = ident(k) + " = " + qb.bind(data[k])
	}

	where, err := qb.where(filters)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("UPDATE %s SET %s%s", qb.tableIdentifier(), strings.Join(sets, ", "), where)
	if returning {
		sql += " RETURNING *"
	}
	return sql, qb.args, nil
}

// BuildDelete renders DELETE FROM ... WHERE filters. An empty filter list is
// refused rather than deleting the whole table.
func BuildDelete(schema, table string, filters []Filter, returning bool) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, ErrNoWhere
	}
	qb := newQueryBuilder(schema, table)

	where, err := qb.where(filters)
	if err != nil {
		return "", nil, err
	}

	sql := "DELETE FROM " + qb.tableIdentifier() + where
	if returning {
		sql += " RETURNING *"
	}
	return sql, qb.args, nil
}

// BuildCount renders SELECT count(*) for the filters of a read.
func BuildCount(schema, table string, filters []Filter) (string, []any, error) {
	qb := newQueryBuilder(schema, table)
	where, err := qb.where(filters)
	if err != nil {
		return "", nil, err
	}
	return "SELECT count(*) FROM " + qb.tableIdentifier() + where, qb.args, nil
}

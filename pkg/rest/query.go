package rest

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	pg "github.com/mariukha/CoopManager/pkg/pgx"
	"github.com/mariukha/CoopManager/pkg/pgx/schema"
)

var (
	ErrTableNotAllowed = errors.New("invalid table")
	ErrUnknownColumn   = errors.New("unknown column")
)

// reserved query parameters; everything else is a column filter
var reservedParams = map[string]bool{
	"select": true,
	"order":  true,
	"limit":  true,
	"offset": true,
}

// parseQuery turns the query string of a read into a pg.Select checked
// against the columns of t.
func parseQuery(values url.Values, t schema.Table) (pg.Select, error) {
	var q pg.Select

	if sel := values.Get("select"); sel != "" && sel != "*" {
		for _, col := range strings.Split(sel, ",") {
			col = strings.TrimSpace(col)
			if err := checkColumn(t, col); err != nil {
				return q, err
			}
			q.Columns = append(q.Columns, col)
		}
	}

	if order := values.Get("order"); order != "" {
		terms, err := parseOrder(order)
		if err != nil {
			return q, err
		}
		for _, o := range terms {
			if err := checkColumn(t, o.Column); err != nil {
				return q, err
			}
		}
		q.Order = terms
	}

	var err error
	if q.Limit, err = parseCount(values, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = parseCount(values, "offset"); err != nil {
		return q, err
	}

	for key, vals := range values {
		if reservedParams[key] {
			continue
		}
		if err := checkColumn(t, key); err != nil {
			return q, err
		}
		for _, v := range vals {
			f, err := parseFilter(key, v)
			if err != nil {
				return q, err
			}
			q.Filters = append(q.Filters, f)
		}
	}
	// map iteration order is random; keep statements stable
	sortFilters(q.Filters)

	return q, nil
}

func checkColumn(t schema.Table, col string) error {
	if !t.HasColumn(col) {
		return fmt.Errorf("%w %q in %s", ErrUnknownColumn, col, t.Name)
	}
	return nil
}

// parseOrder parses `col[.asc|.desc][.nullsfirst|.nullslast],...`.
func parseOrder(order string) ([]pg.Order, error) {
	var result []pg.Order
	for part := range strings.SplitSeq(order, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ".")
		o := pg.Order{Column: fields[0]}
		for _, modifier := range fields[1:] {
			switch modifier {
			case "asc":
				o.Desc = false
			case "desc":
				o.Desc = true
			case "nullsfirst":
				o.NullsFirst = ptr(true)
			case "nullslast":
				o.NullsFirst = ptr(false)
			default:
				return nil, fmt.Errorf("invalid order modifier %q", modifier)
			}
		}
		result = append(result, o)
	}
	return result, nil
}

// parseFilter parses `op.value`, e.g. `eq.5`, `in.(1,2)` or `is.null`.
func parseFilter(column, value string) (pg.Filter, error) {
	op, val, ok := strings.Cut(value, ".")
	if !ok {
		return pg.Filter{}, fmt.Errorf("invalid filter %s=%s: want op.value", column, value)
	}
	if _, known := pg.Operators[op]; !known {
		return pg.Filter{}, fmt.Errorf("unknown operator %q", op)
	}

	f := pg.Filter{Column: column, Op: op, Value: val}
	if op == "in" {
		list := strings.TrimSuffix(strings.TrimPrefix(val, "("), ")")
		var items []any
		for item := range strings.SplitSeq(list, ",") {
			if item = strings.Trim(strings.TrimSpace(item), `"`); item != "" {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			return pg.Filter{}, fmt.Errorf("empty list for %s=in", column)
		}
		f.Value = items
	}
	return f, nil
}

func parseCount(values url.Values, key string) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

func sortFilters(filters []pg.Filter) {
	slices.SortStableFunc(filters, func(a, b pg.Filter) int {
		return cmp.Compare(a.Column, b.Column)
	})
}

func ptr[T any](v T) *T { return &v }

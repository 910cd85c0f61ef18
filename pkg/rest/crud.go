package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/httputil"
	pg "github.com/mariukha/CoopManager/pkg/pgx"
	"github.com/mariukha/CoopManager/pkg/pgx/schema"
)

type recordBody struct {
	Data map[string]any `json:"data"`
}

// table resolves the {table} path parameter against the allow-list and the
// schema cache.
func (s *Server) table(r *http.Request) (schema.Table, error) {
	name := r.PathValue("table")
	if !coop.IsTable(name) {
		return schema.Table{}, badRequest(fmt.Errorf("%w %q", ErrTableNotAllowed, name))
	}
	t, ok := s.tables.Table(name)
	if !ok {
		return schema.Table{}, httputil.WithStatus(http.StatusServiceUnavailable, fmt.Errorf("no metadata for table %s", name))
	}
	return t, nil
}

// keyFilter builds the WHERE condition of the {id_field}/{id_value} routes.
func keyFilter(r *http.Request, t schema.Table) ([]pg.Filter, error) {
	field := r.PathValue("id_field")
	if err := checkColumn(t, field); err != nil {
		return nil, badRequest(err)
	}
	return []pg.Filter{{Column: field, Op: "eq", Value: r.PathValue("id_value")}}, nil
}

func (s *Server) listRows(w http.ResponseWriter, r *http.Request) {
	t, err := s.table(r)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	q, err := parseQuery(r.URL.Query(), t)
	if err != nil {
		httputil.ServerError(w, r, badRequest(err))
		return
	}
	sql, args, err := pg.BuildSelect(s.schema, t.Name, q)
	if err != nil {
		httputil.ServerError(w, r, badRequest(err))
		return
	}

	rows, err := queryJSON(r.Context(), s.db, sql, args...)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	if parsePrefer(r).WantsCount() {
		countSQL, countArgs, err := pg.BuildCount(s.schema, t.Name, q.Filters)
		if err != nil {
			httputil.ServerError(w, r, badRequest(err))
			return
		}
		var total int64
		if err := s.db.QueryRow(r.Context(), countSQL, countArgs...).Scan(&total); err != nil {
			httputil.ServerError(w, r, err)
			return
		}
		w.Header().Set("Content-Range", contentRange(q.Offset, len(rows), total))
	}

	httputil.JSON(w, http.StatusOK, rows)
}

func (s *Server) insertRow(w http.ResponseWriter, r *http.Request) {
	t, err := s.table(r)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	var body recordBody
	if err := httputil.BindOrError(r, w, &body); err != nil {
		return
	}
	data, err := writeValues(t, body.Data, false)
	if err != nil {
		httputil.ServerError(w, r, badRequest(err))
		return
	}

	prefer := parsePrefer(r)
	sql, args, err := pg.BuildInsert(s.schema, t.Name, data, prefer.WantsRepresentation())
	if err != nil {
		httputil.ServerError(w, r, badRequest(err))
		return
	}

	if prefer.WantsRepresentation() {
		rows, err := queryJSON(r.Context(), s.db, sql, args...)
		if err != nil {
			httputil.ServerError(w, r, err)
			return
		}
		httputil.JSON(w, http.StatusCreated, rows)
		return
	}
	if _, err := s.db.Exec(r.Context(), sql, args...); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, success("Rekord dodany"))
}

func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) {
	t, err := s.table(r)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	filters, err := keyFilter(r, t)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	var body recordBody
	if err := httputil.BindOrError(r, w, &body); err != nil {
		return
	}
	data, err := writeValues(t, body.Data, true)
	if err != nil {
		httputil.ServerError(w, r, badRequest(err))
		return
	}

	prefer := parsePrefer(r)
	sql, args, err := pg.BuildUpdate(s.schema, t.Name, data, filters, prefer.WantsRepresentation())
	if err != nil {
		httputil.ServerError(w, r, badRequest(err))
		return
	}
	s.write(w, r, sql, args, prefer, "Rekord zaktualizowany")
}

func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) {
	t, err := s.table(r)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	filters, err := keyFilter(r, t)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	prefer := parsePrefer(r)
	sql, args, err := pg.BuildDelete(s.schema, t.Name, filters, prefer.WantsRepresentation())
	if err != nil {
		httputil.ServerError(w, r, badRequest(err))
		return
	}
	s.write(w, r, sql, args, prefer, "Rekord usunięty")
}

// write runs an update or delete that must hit at least one row.
func (s *Server) write(w http.ResponseWriter, r *http.Request, sql string, args []any, prefer *Prefer, message string) {
	notFound := httputil.WithStatus(http.StatusNotFound, errors.New("no matching record"))

	if prefer.WantsRepresentation() {
		rows, err := queryJSON(r.Context(), s.db, sql, args...)
		if err != nil {
			httputil.ServerError(w, r, err)
			return
		}
		if len(rows) == 0 {
			httputil.ServerError(w, r, notFound)
			return
		}
		httputil.JSON(w, http.StatusOK, rows)
		return
	}

	tag, err := s.db.Exec(r.Context(), sql, args...)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.ServerError(w, r, notFound)
		return
	}
	httputil.JSON(w, http.StatusOK, success(message))
}

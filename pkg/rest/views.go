package rest

import (
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/httputil"
)

func (s *Server) view(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	name, ok := coop.View(slug)
	if !ok {
		httputil.ServerError(w, r, httputil.WithStatus(http.StatusNotFound, fmt.Errorf("unknown view %q", slug)))
		return
	}

	rows, err := queryJSON(r.Context(), s.reader, "SELECT * FROM "+pgx.Identifier{s.schema, name}.Sanitize())
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rows)
}

package rest

import (
	"maps"
	"net/http"
	"slices"

	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/httputil"
	"github.com/mariukha/CoopManager/pkg/pgx/schema"
)

const auditLogSQL = `SELECT id_logu, id_czlonka, operacja, stare_dane, nowe_dane, data_zmiany
  FROM log_zmian_czlonka
 ORDER BY data_zmiany DESC
 FETCH FIRST 100 ROWS ONLY`

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) auditLogs(w http.ResponseWriter, r *http.Request) {
	rows, err := queryJSON(r.Context(), s.reader, auditLogSQL)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rows)
}

// schemaInfo lists the cached metadata of the allow-listed tables and the
// catalog views, sorted by name.
func (s *Server) schemaInfo(w http.ResponseWriter, r *http.Request) {
	snapshot := s.tables.Snapshot()
	exposed := make([]schema.Table, 0, len(snapshot))
	for _, name := range slices.Sorted(maps.Keys(snapshot)) {
		if coop.IsTable(name) || slices.Contains(coop.ViewNames(), name) {
			exposed = append(exposed, snapshot[name])
		}
	}
	httputil.JSON(w, http.StatusOK, exposed)
}

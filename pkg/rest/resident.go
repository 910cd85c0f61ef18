package rest

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/httputil"
	"github.com/mariukha/CoopManager/pkg/httputil/middleware"
	"github.com/mariukha/CoopManager/pkg/pgx/routine"
	"go.uber.org/zap"
)

const (
	residentFeesSQL = `SELECT id_oplaty, id_mieszkania, id_uslugi, kwota, data_naliczenia, status_oplaty, zuzycie
  FROM oplata WHERE id_mieszkania = $1 ORDER BY data_naliczenia DESC`

	residentRepairsSQL = `SELECT id_naprawy, id_mieszkania, id_pracownika, opis, data_zgloszenia, status
  FROM naprawa WHERE id_mieszkania = $1 ORDER BY data_zgloszenia DESC`

	allMeetingsSQL = `SELECT id_spotkania, temat, miejsce, data_spotkania
  FROM spotkanie_mieszkancow ORDER BY data_spotkania DESC`

	residentContractsSQL = `SELECT id_umowy, id_mieszkania, id_czlonka, data_zawarcia, data_wygasniecia, typ_umowy
  FROM umowa WHERE id_mieszkania = $1`

	myPaymentsSQL = `SELECT id_oplaty, nazwa_uslugi, kwota, zuzycie, jednostka_miary, data_naliczenia, status_oplaty
  FROM v_moje_oplaty WHERE id_mieszkania = $1 ORDER BY data_naliczenia DESC`

	repairsWithWorkerSQL = `SELECT n.id_naprawy, n.opis, n.data_zgloszenia, n.data_wykonania,
       n.status, p.imie || ' ' || p.nazwisko AS pracownik
  FROM naprawa n LEFT JOIN pracownik p ON n.id_pracownika = p.id_pracownika
 WHERE n.id_mieszkania = $1 ORDER BY n.data_zgloszenia DESC`

	upcomingMeetingsSQL = `SELECT id_spotkania, temat, miejsce, data_spotkania
  FROM spotkanie_mieszkancow WHERE data_spotkania >= CURRENT_DATE ORDER BY data_spotkania ASC`

	consumptionSQL = `SELECT u.nazwa_uslugi, SUM(o.zuzycie) AS zuzycie, u.jednostka_miary, SUM(o.kwota) AS suma_kwot
  FROM oplata o JOIN uslugi u ON o.id_uslugi = u.id_uslugi
 WHERE o.id_mieszkania = $1
 GROUP BY u.nazwa_uslugi, u.jednostka_miary
 ORDER BY suma_kwot DESC`
)

var errOtherApartment = httputil.WithStatus(http.StatusForbidden, errors.New("apartment belongs to another resident"))

// apartment parses an apartment id path parameter. A resident token may
// only read its own apartment.
func apartment(r *http.Request, name string) (int64, error) {
	id, err := pathID(r, name)
	if err != nil {
		return 0, err
	}
	return id, checkApartment(r, id)
}

func checkApartment(r *http.Request, id int64) error {
	claims, ok := middleware.ClaimsFrom(r)
	if ok && claims.Role == middleware.RoleResident && claims.AptID != id {
		return errOtherApartment
	}
	return nil
}

// ResidentData is the body of GET /resident/my-data/{apt_id}.
type ResidentData struct {
	Fees      []map[string]any `json:"oplaty"`
	Repairs   []map[string]any `json:"naprawy"`
	Meetings  []map[string]any `json:"spotkania"`
	Contracts []map[string]any `json:"umowy"`
	FeesTotal float64          `json:"suma_oplat"`
}

func (s *Server) residentData(w http.ResponseWriter, r *http.Request) {
	id, err := apartment(r, "apt_id")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	ctx := r.Context()

	var data ResidentData
	if data.Fees, err = queryJSON(ctx, s.reader, residentFeesSQL, id); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	if data.Repairs, err = queryJSON(ctx, s.reader, residentRepairsSQL, id); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	if data.Meetings, err = queryJSON(ctx, s.reader, allMeetingsSQL); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	if data.Contracts, err = queryJSON(ctx, s.reader, residentContractsSQL, id); err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	var total pgtype.Float8
	if err := routine.Func(ctx, s.reader, coop.ApartmentFees, []any{id}, &total); err != nil {
		httputil.Logger(r).Warn("summing apartment fees failed", zap.Int64("apt_id", id), zap.Error(err))
		total = pgtype.Float8{}
	}
	data.FeesTotal = total.Float64

	httputil.JSON(w, http.StatusOK, data)
}

// rowsByApartment serves a read whose only parameter is the apartment id.
func (s *Server) rowsByApartment(sql string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := apartment(r, "id_mieszkania")
		if err != nil {
			httputil.ServerError(w, r, err)
			return
		}
		rows, err := queryJSON(r.Context(), s.reader, sql, id)
		if err != nil {
			httputil.ServerError(w, r, err)
			return
		}
		httputil.JSON(w, http.StatusOK, rows)
	}
}

type repairRequest struct {
	ApartmentID *int64 `json:"id_mieszkania"`
	Description string `json:"opis"`
}

func (s *Server) reportRepair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}
	if err := required("id_mieszkania", req.ApartmentID, "opis", req.Description); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	if err := checkApartment(r, *req.ApartmentID); err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	var id int64
	if err := routine.Call(r.Context(), s.db, coop.ReportRepair, []any{*req.ApartmentID, req.Description}, &id); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success("Zgłoszenie przyjęte", "id_naprawy", id))
}

func (s *Server) upcomingMeetings(w http.ResponseWriter, r *http.Request) {
	rows, err := queryJSON(r.Context(), s.reader, upcomingMeetingsSQL)
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rows)
}

package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/httputil"
	"github.com/mariukha/CoopManager/pkg/pgx/routine"
)

const defaultFeeIncrease = 10.0

type feeRequest struct {
	Percent     *float64 `json:"procent"`
	ApartmentID *int64   `json:"id_mieszkania"`
	ServiceID   *int64   `json:"id_uslugi"`
	Consumption *float64 `json:"zuzycie"`
}

type memberCreate struct {
	ApartmentID *int64  `json:"id_mieszkania"`
	FirstName   string  `json:"imie"`
	LastName    string  `json:"nazwisko"`
	PESEL       *string `json:"pesel"`
	Phone       *string `json:"telefon"`
	Email       *string `json:"email"`
}

type memberUpdate struct {
	FirstName *string `json:"imie"`
	LastName  *string `json:"nazwisko"`
	Phone     *string `json:"telefon"`
	Email     *string `json:"email"`
}

type meetingCreate struct {
	Topic string  `json:"temat"`
	Place string  `json:"miejsce"`
	Date  *string `json:"data"`
}

type buildingCreate struct {
	Address     string `json:"adres"`
	Floors      *int64 `json:"liczba_pieter"`
	YearOfBuild *int64 `json:"rok_budowy"`
}

// required reports a 400 naming the first missing field.
func required(fields ...any) error {
	for i := 0; i+1 < len(fields); i += 2 {
		missing := false
		switch v := fields[i+1].(type) {
		case string:
			missing = v == ""
		case *int64:
			missing = v == nil
		case *float64:
			missing = v == nil
		}
		if missing {
			return badRequest(fmt.Errorf("%s is required", fields[i]))
		}
	}
	return nil
}

func (s *Server) increaseFees(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}
	percent := defaultFeeIncrease
	if req.Percent != nil && *req.Percent != 0 {
		percent = *req.Percent
	}

	if err := routine.Call(r.Context(), s.db, coop.IncreaseFees, []any{percent}); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success(fmt.Sprintf("Ceny usług zwiększone o %s%%", strconv.FormatFloat(percent, 'f', -1, 64))))
}

func (s *Server) addFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}
	if isZero(req.ApartmentID) || isZero(req.ServiceID) || isZero(req.Consumption) {
		httputil.JSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "Wymagane: id_mieszkania, id_uslugi, zuzycie",
		})
		return
	}

	var amount pgtype.Float8
	args := []any{*req.ApartmentID, *req.ServiceID, *req.Consumption}
	if err := routine.Func(r.Context(), s.db, coop.AddFee, args, &amount); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success(
		fmt.Sprintf("Dodano opłatę %.2f PLN dla mieszkania %d", amount.Float64, *req.ApartmentID),
		"kwota", amount.Float64,
	))
}

func isZero[T int64 | float64](v *T) bool {
	return v == nil || *v == 0
}

func (s *Server) membersOfBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "building_id")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	var members pgtype.Text
	if err := routine.Func(r.Context(), s.reader, coop.MembersOfBuilding, []any{id}, &members); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	result := members.String
	if !members.Valid || result == "" {
		result = "Brak członków"
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"building_id": id, "members": result})
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var req memberCreate
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}
	if err := required("id_mieszkania", req.ApartmentID, "imie", req.FirstName, "nazwisko", req.LastName); err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	var id int64
	args := []any{*req.ApartmentID, req.FirstName, req.LastName, req.PESEL, req.Phone, req.Email}
	if err := routine.Call(r.Context(), s.db, coop.AddMember, args, &id); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success("Członek dodany przez procedurę DB", "id_czlonka", id))
}

func (s *Server) updateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id_czlonka")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	var req memberUpdate
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}

	var updated int64
	args := []any{id, req.FirstName, req.LastName, req.Phone, req.Email}
	if err := routine.Call(r.Context(), s.db, coop.UpdateMember, args, &updated); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success("Członek zaktualizowany przez procedurę DB", "rows_updated", updated))
}

func (s *Server) deleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id_czlonka")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	var deleted int64
	if err := routine.Call(r.Context(), s.db, coop.DeleteMember, []any{id}, &deleted); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success("Członek usunięty przez procedurę DB", "rows_deleted", deleted))
}

func (s *Server) addMeeting(w http.ResponseWriter, r *http.Request) {
	var req meetingCreate
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}
	if err := required("temat", req.Topic, "miejsce", req.Place); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		httputil.ServerError(w, r, badRequest(err))
		return
	}

	var id int64
	if err := routine.Func(r.Context(), s.db, coop.AddMeeting, []any{req.Topic, req.Place, date}, &id); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success("Spotkanie dodane z użyciem SEQUENCE", "id_spotkania", id))
}

func (s *Server) updateAccountBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id_konta")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	balance, err := strconv.ParseFloat(r.URL.Query().Get("nowe_saldo"), 64)
	if err != nil {
		httputil.ServerError(w, r, badRequest(errors.New("nowe_saldo must be a number")))
		return
	}

	var updated int64
	if err := routine.Func(r.Context(), s.db, coop.UpdateAccountBalance, []any{id, balance}, &updated); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success(fmt.Sprintf("Saldo konta %d zaktualizowane", id), "rows_updated", updated))
}

func (s *Server) apartmentFees(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "apt_id")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	var total pgtype.Float8
	if err := routine.Func(r.Context(), s.reader, coop.ApartmentFees, []any{id}, &total); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"apartment_id": id, "total_fees": total.Float64})
}

func (s *Server) workerRepairs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "worker_id")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	var count pgtype.Float8
	if err := routine.Func(r.Context(), s.reader, coop.WorkerRepairs, []any{id}, &count); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"worker_id": id, "repairs_count": int64(count.Float64)})
}

func (s *Server) countRecords(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table_name")
	if !coop.IsTable(table) {
		httputil.ServerError(w, r, badRequest(fmt.Errorf("%w %q", ErrTableNotAllowed, table)))
		return
	}
	var count pgtype.Int8
	if err := routine.Func(r.Context(), s.reader, coop.CountRecords, []any{table}, &count); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"table": table, "count": count.Int64})
}

func (s *Server) insertBuilding(w http.ResponseWriter, r *http.Request) {
	var req buildingCreate
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}
	if err := required("adres", req.Address, "liczba_pieter", req.Floors, "rok_budowy", req.YearOfBuild); err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	var id int64
	args := []any{req.Address, *req.Floors, *req.YearOfBuild}
	if err := routine.Call(r.Context(), s.db, coop.InsertBuilding, args, &id); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success("Budynek dodany przez package", "id_budynku", id))
}

func (s *Server) updateBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id_budynku")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	q := r.URL.Query()
	address := q.Get("adres")
	floors, err := strconv.ParseInt(q.Get("liczba_pieter"), 10, 64)
	if address == "" || err != nil {
		httputil.ServerError(w, r, badRequest(errors.New("adres and integer liczba_pieter are required")))
		return
	}

	if err := routine.Call(r.Context(), s.db, coop.UpdateBuilding, []any{id, address, floors}); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success(fmt.Sprintf("Budynek %d zaktualizowany przez package", id)))
}

func (s *Server) deleteBuilding(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id_budynku")
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	var deleted int64
	if err := routine.Call(r.Context(), s.db, coop.DeleteBuilding, []any{id}, &deleted); err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, success("Budynek usunięty przez package", "rows_deleted", deleted))
}

// textFunc serves GET endpoints returning one text value of a package
// function as {idField: id, resultField: value}.
func (s *Server) textFunc(fn coop.Routine, idField, resultField string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, idField)
		if err != nil {
			httputil.ServerError(w, r, err)
			return
		}
		var result pgtype.Text
		if err := routine.Func(r.Context(), s.reader, fn, []any{id}, &result); err != nil {
			httputil.ServerError(w, r, err)
			return
		}
		var value any
		if result.Valid {
			value = result.String
		}
		httputil.JSON(w, http.StatusOK, map[string]any{idField: id, resultField: value})
	}
}

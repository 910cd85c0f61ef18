package rest

import (
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/mariukha/CoopManager/pkg/httputil/middleware"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bearer(t *testing.T, tokens *middleware.Tokens, subject, role string, aptID int64) string {
	t.Helper()
	token, _, err := tokens.Issue(subject, role, aptID)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestResidentData(t *testing.T) {
	mock, h := newTestServer(t)

	mock.ExpectQuery(regexp.QuoteMeta(residentFeesSQL)).WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id_oplaty", "kwota"}).AddRow(int32(1), 250.0))
	mock.ExpectQuery(regexp.QuoteMeta(residentRepairsSQL)).WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id_naprawy", "opis"}))
	mock.ExpectQuery(regexp.QuoteMeta(allMeetingsSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"id_spotkania", "temat"}).AddRow(int32(3), "Budżet"))
	mock.ExpectQuery(regexp.QuoteMeta(residentContractsSQL)).WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id_umowy"}))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "coop_pkg"."suma_oplat_mieszkania"($1)`)).WithArgs(int64(5)).
		WillReturnError(errors.New("function does not exist"))
	mock.ExpectRollback()

	rr := do(t, h, http.MethodGet, "/resident/my-data/5", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{
		"oplaty": [{"id_oplaty": 1, "kwota": 250}],
		"naprawy": [],
		"spotkania": [{"id_spotkania": 3, "temat": "Budżet"}],
		"umowy": [],
		"suma_oplat": 0
	}`, rr.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResidentDataSum(t *testing.T) {
	mock, h := newTestServer(t)

	for _, sql := range []string{residentFeesSQL, residentRepairsSQL, allMeetingsSQL, residentContractsSQL} {
		mock.ExpectQuery(regexp.QuoteMeta(sql)).WillReturnRows(pgxmock.NewRows([]string{"id"}))
	}
	expectFunc(mock, `SELECT "coop_pkg"."suma_oplat_mieszkania"($1)`, 812.4, int64(7))

	rr := do(t, h, http.MethodGet, "/resident/my-data/7", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data := decode[ResidentData](t, rr)
	assert.InDelta(t, 812.4, data.FeesTotal, 0.001)
	assert.Empty(t, data.Fees)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResidentScope(t *testing.T) {
	tokens := middleware.NewTokens("secret", time.Hour)
	mock, h := newTestServer(t, func(o *Options) {
		o.Tokens = tokens
		o.AuthRequired = true
	})
	resident := bearer(t, tokens, "11", middleware.RoleResident, 5)
	admin := bearer(t, tokens, "admin", middleware.RoleAdmin, 0)

	t.Run("no token", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/resident/payments/5", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("other apartment", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/resident/payments/6", nil, "Authorization", resident)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		rr = do(t, h, http.MethodPost, "/resident/repairs", `{"id_mieszkania": 6, "opis": "Cieknie kran"}`, "Authorization", resident)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("resident on admin routes", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/data/budynek", nil, "Authorization", resident)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("own apartment", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(myPaymentsSQL)).WithArgs(int64(5)).
			WillReturnRows(pgxmock.NewRows([]string{"id_oplaty", "nazwa_uslugi"}).AddRow(int32(9), "Woda"))
		rr := do(t, h, http.MethodGet, "/resident/payments/5", nil, "Authorization", resident)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.JSONEq(t, `[{"id_oplaty": 9, "nazwa_uslugi": "Woda"}]`, rr.Body.String())
	})

	t.Run("admin reads any apartment", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(consumptionSQL)).WithArgs(int64(6)).
			WillReturnRows(pgxmock.NewRows([]string{"nazwa_uslugi", "zuzycie"}))
		rr := do(t, h, http.MethodGet, "/resident/consumption/6", nil, "Authorization", admin)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepair(t *testing.T) {
	mock, h := newTestServer(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`CALL "zglos_naprawe"($1, $2, NULL)`)).
		WithArgs(int64(5), "Cieknie kran").
		WillReturnRows(pgxmock.NewRows([]string{"id_naprawy"}).AddRow(int64(31)))
	mock.ExpectCommit()

	rr := do(t, h, http.MethodPost, "/resident/repairs", map[string]any{"id_mieszkania": 5, "opis": "Cieknie kran"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"success": true, "message": "Zgłoszenie przyjęte", "id_naprawy": 31}`, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/resident/repairs", `{"opis": "Cieknie kran"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpcomingMeetings(t *testing.T) {
	mock, h := newTestServer(t)

	mock.ExpectQuery(regexp.QuoteMeta(upcomingMeetingsSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"id_spotkania", "temat", "miejsce", "data_spotkania"}).
			AddRow(int32(4), "Remont dachu", "Świetlica", time.Date(2026, 11, 3, 18, 0, 0, 0, time.UTC)))

	rr := do(t, h, http.MethodGet, "/resident/meetings", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `[{"id_spotkania": 4, "temat": "Remont dachu", "miejsce": "Świetlica", "data_spotkania": "2026-11-03 18:00:00"}]`, rr.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

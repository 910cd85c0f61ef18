package rest

import (
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryReport(t *testing.T) {
	mock, h := newTestServer(t)
	// the report queries run concurrently
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`FROM uslugi u\s+LEFT JOIN oplata o`).
		WillReturnRows(pgxmock.NewRows([]string{"nazwa_uslugi", "jednostka_miary", "total_zuzycie", "total_kwota"}).
			AddRow("Woda", "m3", 120.0, 600.0).
			AddRow("Wywóz śmieci", nil, 0.0, 150.5))
	mock.ExpectQuery(regexp.QuoteMeta(membersCountSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(20)))
	mock.ExpectQuery(regexp.QuoteMeta(arrearsCountSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(`FETCH FIRST 50 ROWS ONLY`).
		WillReturnRows(pgxmock.NewRows([]string{"adres", "numer_mieszkania", "nazwa_uslugi", "kwota", "data_naliczenia"}).
			AddRow("ul. Lipowa 4", "12", nil, 300.0, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)).
			AddRow("ul. Polna 5", "3", "Woda", 90.0, nil))
	mock.ExpectQuery(regexp.QuoteMeta(apartmentsSummarySQL)).
		WillReturnRows(pgxmock.NewRows([]string{"id_mieszkania", "suma_oplat"}).AddRow(int32(12), 300.0))
	mock.ExpectQuery(regexp.QuoteMeta(repairsStatusSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"id_naprawy", "status_opis"}).AddRow(int32(1), "W trakcie"))

	for i, table := range coop.StatTables {
		mock.ExpectBegin()
		q := mock.ExpectQuery(regexp.QuoteMeta(`SELECT "policz_rekordy"($1)`)).WithArgs(table)
		if table == "naprawa" {
			q.WillReturnError(errors.New("relation does not exist"))
			mock.ExpectRollback()
			continue
		}
		q.WillReturnRows(pgxmock.NewRows([]string{"policz_rekordy"}).AddRow(int64(i + 1)))
		mock.ExpectCommit()
	}

	rr := do(t, h, http.MethodGet, "/reports/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	report := decode[SummaryReport](t, rr)
	assert.InDelta(t, 750.5, report.TotalRevenue, 0.001)
	require.Len(t, report.Services, 2)
	assert.Equal(t, "m3", report.Services[0].Unit)
	assert.Equal(t, "szt", report.Services[1].Unit)
	assert.EqualValues(t, 20, report.MembersCount)
	assert.EqualValues(t, 2, report.ArrearsCount)

	require.Len(t, report.UnpaidDetails, 2)
	assert.Equal(t, "Inne", report.UnpaidDetails[0].Service)
	require.NotNil(t, report.UnpaidDetails[0].Charged)
	assert.Equal(t, "2024-02-10", *report.UnpaidDetails[0].Charged)
	assert.Nil(t, report.UnpaidDetails[1].Charged)

	assert.Len(t, report.TableStats, len(coop.StatTables))
	assert.EqualValues(t, 0, report.TableStats["naprawa"])
	assert.EqualValues(t, 1, report.TableStats["budynek"])
	assert.EqualValues(t, 7, report.TableStats["umowa"])
	assert.NotContains(t, report.TableStats, "uslugi")
	assert.Len(t, report.Apartments, 1)
	assert.Len(t, report.RepairsStatus, 1)
}

func TestSummaryReportFails(t *testing.T) {
	mock, h := newTestServer(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`FROM uslugi u`).WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(regexp.QuoteMeta(membersCountSQL)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(20)))

	rr := do(t, h, http.MethodGet, "/reports/summary", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestViews(t *testing.T) {
	mock, h := newTestServer(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."v_pracownicy_koledzy"`)).
		WillReturnRows(pgxmock.NewRows([]string{"PRACOWNIK_1", "PRACOWNIK_2"}).AddRow("Jan", "Ewa"))

	rr := do(t, h, http.MethodGet, "/views/pracownicy-koledzy", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `[{"pracownik_1": "Jan", "pracownik_2": "Ewa"}]`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/views/uzytkownicy", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

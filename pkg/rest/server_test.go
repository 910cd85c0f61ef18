package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mariukha/CoopManager/pkg/httputil"
	"github.com/mariukha/CoopManager/pkg/pgx/schema"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

var testTables = []schema.Table{
	{
		Schema:      "public",
		Name:        "budynek",
		Type:        schema.TypeTable,
		PrimaryKeys: []string{"id_budynku"},
		Columns: []schema.Column{
			{Name: "id_budynku", DataType: "integer", IsPrimaryKey: true},
			{Name: "adres", DataType: "character varying"},
			{Name: "liczba_pieter", DataType: "integer", IsNullable: true},
			{Name: "rok_budowy", DataType: "integer", IsNullable: true},
		},
	},
	{
		Schema:      "public",
		Name:        "oplata",
		Type:        schema.TypeTable,
		PrimaryKeys: []string{"id_oplaty"},
		Columns: []schema.Column{
			{Name: "id_oplaty", DataType: "integer", IsPrimaryKey: true},
			{Name: "id_mieszkania", DataType: "integer"},
			{Name: "id_uslugi", DataType: "integer", IsNullable: true},
			{Name: "kwota", DataType: "numeric"},
			{Name: "data_naliczenia", DataType: "date", IsNullable: true},
			{Name: "status_oplaty", DataType: "character varying", IsNullable: true},
			{Name: "zuzycie", DataType: "numeric", IsNullable: true},
		},
	},
	{
		Schema:      "public",
		Name:        "czlonek",
		Type:        schema.TypeTable,
		PrimaryKeys: []string{"id_czlonka"},
		Columns: []schema.Column{
			{Name: "id_czlonka", DataType: "integer", IsPrimaryKey: true},
			{Name: "id_mieszkania", DataType: "integer"},
			{Name: "imie", DataType: "character varying"},
			{Name: "nazwisko", DataType: "character varying"},
			{Name: "email", DataType: "character varying", IsNullable: true},
		},
	},
	{
		Schema: "public",
		Name:   "v_mieszkania_info",
		Type:   schema.TypeView,
		Columns: []schema.Column{
			{Name: "id_mieszkania", DataType: "integer"},
			{Name: "adres", DataType: "character varying"},
		},
	},
	{
		Schema: "public",
		Name:   "pg_stat_statements",
		Type:   schema.TypeView,
	},
}

// newTestServer wires a Server over a pgxmock pool and returns the full
// handler, so routing and middleware run as in production.
func newTestServer(t *testing.T, configure ...func(*Options)) (pgxmock.PgxPoolIface, http.Handler) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	opts := Options{DB: mock, Tables: schema.NewStatic(testTables...)}
	for _, fn := range configure {
		fn(&opts)
	}
	router := httputil.NewRouter()
	NewServer(opts).Register(router)
	return mock, router.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// dateArg matches a time.Time or *time.Time argument on its calendar day.
type dateArg string

func (d dateArg) Match(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return t.Format(dateLayout) == string(d)
	case *time.Time:
		return t != nil && t.Format(dateLayout) == string(d)
	}
	return false
}

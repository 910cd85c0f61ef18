package rest

import (
	"net/url"
	"testing"

	pg "github.com/mariukha/CoopManager/pkg/pgx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	oplata := testTables[1]

	tests := []struct {
		name    string
		query   string
		want    pg.Select
		wantErr error
	}{
		{
			name:  "empty",
			query: "",
			want:  pg.Select{},
		},
		{
			name:  "select star",
			query: "select=*",
			want:  pg.Select{},
		},
		{
			name:  "columns and paging",
			query: "select=id_oplaty, kwota&limit=20&offset=40",
			want:  pg.Select{Columns: []string{"id_oplaty", "kwota"}, Limit: 20, Offset: 40},
		},
		{
			name:  "order",
			query: "order=data_naliczenia.desc.nullslast,id_oplaty",
			want: pg.Select{Order: []pg.Order{
				{Column: "data_naliczenia", Desc: true, NullsFirst: ptr(false)},
				{Column: "id_oplaty"},
			}},
		},
		{
			name:  "filters sorted by column",
			query: "status_oplaty=eq.nieoplacone&kwota=gte.100&id_uslugi=in.(1,2)",
			want: pg.Select{Filters: []pg.Filter{
				{Column: "id_uslugi", Op: "in", Value: []any{"1", "2"}},
				{Column: "kwota", Op: "gte", Value: "100"},
				{Column: "status_oplaty", Op: "eq", Value: "nieoplacone"},
			}},
		},
		{
			name:    "unknown select column",
			query:   "select=haslo",
			wantErr: ErrUnknownColumn,
		},
		{
			name:    "unknown filter column",
			query:   "haslo=eq.x",
			wantErr: ErrUnknownColumn,
		},
		{
			name:    "unknown order column",
			query:   "order=haslo.desc",
			wantErr: ErrUnknownColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			got, err := parseQuery(values, oplata)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryInvalid(t *testing.T) {
	oplata := testTables[1]
	for _, q := range []string{
		"limit=-1",
		"offset=abc",
		"order=kwota.sideways",
		"kwota=100",
		"kwota=between.1",
		"id_uslugi=in.()",
	} {
		values, err := url.ParseQuery(q)
		require.NoError(t, err)
		_, err = parseQuery(values, oplata)
		assert.Error(t, err, q)
	}
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter("email", "ilike.*@example.com")
	require.NoError(t, err)
	assert.Equal(t, pg.Filter{Column: "email", Op: "ilike", Value: "*@example.com"}, f)

	f, err = parseFilter("status", `in.("a", "b c")`)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b c"}, f.Value)

	// only the first dot separates the operator
	f, err = parseFilter("kwota", "eq.10.50")
	require.NoError(t, err)
	assert.Equal(t, "10.50", f.Value)
}

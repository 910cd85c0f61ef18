package schema

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/mariukha/CoopManager/internal/testutil/pgtest"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func expectLoad(mock pgxmock.PgxPoolIface, relations []string) {
	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("public", relations).
		WillReturnRows(pgxmock.NewRows([]string{"table_name", "table_type"}).
			AddRow("czlonek", "TABLE").
			AddRow("v_oplaty_summary", "VIEW"))

	mock.ExpectQuery(`FROM information_schema.columns c`).
		WithArgs("public", relations).
		WillReturnRows(pgxmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable", "is_pk"}).
			AddRow("czlonek", "id_czlonka", "integer", false, true).
			AddRow("czlonek", "id_mieszkania", "integer", false, false).
			AddRow("czlonek", "imie", "character varying", false, false).
			AddRow("czlonek", "data_przystapienia", "date", true, false).
			AddRow("v_oplaty_summary", "suma_oplat", "numeric", true, false))

	mock.ExpectQuery(`FOREIGN KEY`).
		WithArgs("public", relations).
		WillReturnRows(pgxmock.NewRows([]string{"table_name", "column_name", "ref_table", "ref_column"}).
			AddRow("czlonek", "id_mieszkania", "mieszkanie", "id_mieszkania"))
}

func TestCacheLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	relations := []string{"czlonek", "v_oplaty_summary"}
	expectLoad(mock, relations)

	c := NewCache(mock, "public", relations)
	require.NoError(t, c.Load(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, relations, c.Names())

	czlonek, ok := c.Table("czlonek")
	require.True(t, ok)
	assert.Equal(t, TypeTable, czlonek.Type)
	assert.Equal(t, []string{"id_czlonka"}, czlonek.PrimaryKeys)
	assert.Len(t, czlonek.Columns, 4)
	assert.Equal(t, []ForeignKey{{Column: "id_mieszkania", ReferencedTable: "mieszkanie", ReferencedColumn: "id_mieszkania"}}, czlonek.ForeignKeys)

	col, ok := czlonek.Column("data_przystapienia")
	require.True(t, ok)
	assert.True(t, col.IsDate())
	assert.True(t, col.IsNullable)
	assert.False(t, czlonek.HasColumn("pesel"))

	view, ok := c.Table("v_oplaty_summary")
	require.True(t, ok)
	assert.Equal(t, TypeView, view.Type)
	assert.Empty(t, view.PrimaryKeys)
}

func TestCacheLoadError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	static := Table{Name: "budynek"}
	c := NewCache(mock, "public", []string{"budynek"})
	c.tables["budynek"] = static

	mock.ExpectQuery(`FROM information_schema.tables`).WillReturnError(errors.New("connection reset"))
	assert.Error(t, c.Load(context.Background()))

	// a failed reload keeps the previous metadata
	got, ok := c.Table("budynek")
	assert.True(t, ok)
	assert.Equal(t, static, got)
}

func TestNewStatic(t *testing.T) {
	c := NewStatic(Table{Name: "budynek"}, Table{Name: "oplata"})
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, []string{"budynek", "oplata"}, c.Names())

	snap := c.Snapshot()
	delete(snap, "budynek")
	_, ok := c.Table("budynek")
	assert.True(t, ok)
}

func TestColumnIsDate(t *testing.T) {
	for typ, want := range map[string]bool{
		"date":                        true,
		"timestamp without time zone": true,
		"timestamp with time zone":    true,
		"numeric":                     false,
		"character varying":           false,
	} {
		assert.Equal(t, want, Column{DataType: typ}.IsDate(), typ)
	}
}

func TestCacheWatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := pgtest.ParseConfig(t)
	pool := pgtest.Connect(ctx, t)

	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS coop_watch_test (id SERIAL PRIMARY KEY, opis TEXT)`)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Exec(context.Background(), "DROP TABLE IF EXISTS coop_watch_test") })

	c := NewCache(pool, "public", []string{"coop_watch_test"})

	watchCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	connect := func(ctx context.Context) (*pgx.Conn, error) { return pgx.ConnectConfig(ctx, cfg) }
	go func() { done <- c.Watch(watchCtx, connect, zaptest.NewLogger(t)) }()

	require.Eventually(t, func() bool {
		_, err := pool.Exec(ctx, "NOTIFY "+ReloadChannel+", '"+ReloadPayload+"'")
		assert.NoError(t, err)
		_, ok := c.Table("coop_watch_test")
		return ok
	}, 5*time.Second, 100*time.Millisecond)

	stop()
	assert.NoError(t, <-done)
}

func TestCacheWatchReconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	fastWatchBackOff(t, 100)
	cfg := pgtest.ParseConfig(t)
	pool := pgtest.Connect(ctx, t)

	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS coop_watch_reconnect (id SERIAL PRIMARY KEY)`)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Exec(context.Background(), "DROP TABLE IF EXISTS coop_watch_reconnect") })

	c := NewCache(pool, "public", []string{"coop_watch_reconnect"})

	pids := make(chan uint32, 10)
	connect := func(ctx context.Context) (*pgx.Conn, error) {
		conn, err := pgx.ConnectConfig(ctx, cfg)
		if err == nil {
			pids <- conn.PgConn().PID()
		}
		return conn, err
	}

	watchCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Watch(watchCtx, connect, zaptest.NewLogger(t)) }()

	first := <-pids
	_, err = pool.Exec(ctx, "SELECT pg_terminate_backend($1)", first)
	require.NoError(t, err)

	select {
	case second := <-pids:
		assert.NotEqual(t, first, second)
	case <-ctx.Done():
		t.Fatal("watch did not reconnect")
	}
	// reconnecting reloads without a notification
	require.Eventually(t, func() bool {
		_, ok := c.Table("coop_watch_reconnect")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	stop()
	assert.NoError(t, <-done)
}

func fastWatchBackOff(t *testing.T, retries uint64) {
	t.Helper()
	prev := watchBackOff
	watchBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
	}
	t.Cleanup(func() { watchBackOff = prev })
}

func TestCacheWatchRetriesConnect(t *testing.T) {
	fastWatchBackOff(t, 100)
	core, logs := observer.New(zapcore.WarnLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	attempts := 0
	connect := func(context.Context) (*pgx.Conn, error) {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return nil, errors.New("connection refused")
	}

	c := NewStatic()
	assert.NoError(t, c.Watch(ctx, connect, zap.New(core)))
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, logs.FilterMessage("schema watch interrupted").Len(), 2)
}

func TestCacheWatchGivesUp(t *testing.T) {
	fastWatchBackOff(t, 2)
	boom := errors.New("connection refused")
	attempts := 0
	connect := func(context.Context) (*pgx.Conn, error) {
		attempts++
		return nil, boom
	}

	err := NewStatic().Watch(context.Background(), connect, zap.NewNop())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestColumnIsText(t *testing.T) {
	for typ, want := range map[string]bool{
		"character varying": true,
		"character":         true,
		"text":              true,
		"integer":           false,
		"numeric":           false,
		"boolean":           false,
		"date":              false,
	} {
		assert.Equal(t, want, Column{DataType: typ}.IsText(), typ)
	}
}

// Package schema caches metadata of the cooperative tables and views
// (columns, data types, primary and foreign keys) loaded from
// information_schema. The cache reloads itself on
// `NOTIFY coop, 'reload schema'`.
package schema

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pg "github.com/mariukha/CoopManager/pkg/pgx"
	"go.uber.org/zap"
)

const (
	// Following PostgREST's notification convention
	// https://docs.postgrest.org/en/stable/references/schema_cache.html
	ReloadChannel = "coop"
	ReloadPayload = "reload schema"
)

type TableType string

const (
	TypeTable TableType = "TABLE"
	TypeView  TableType = "VIEW"
)

type Table struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Type        TableType    `json:"type"`
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has a column called name.
func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// IsDate reports whether the column holds a calendar date or timestamp.
func (c Column) IsDate() bool {
	switch c.DataType {
	case "date", "timestamp without time zone", "timestamp with time zone":
		return true
	}
	return false
}

// IsText reports whether the column holds character data, the only kind
// for which an empty string is a value rather than a missing one.
func (c Column) IsText() bool {
	switch c.DataType {
	case "character varying", "character", "text":
		return true
	}
	return false
}

// Cache holds the metadata of a fixed set of relations in one schema.
type Cache struct {
	conn      pg.Conn
	schema    string
	relations []string
	tables    map[string]Table
	mu        sync.RWMutex
}

// NewCache returns an empty cache for relations in schema. Call Load before use.
func NewCache(conn pg.Conn, schema string, relations []string) *Cache {
	return &Cache{
		conn:      conn,
		schema:    schema,
		relations: relations,
		tables:    make(map[string]Table),
	}
}

// NewStatic returns a cache pre-filled with tables that never reloads.
func NewStatic(tables ...Table) *Cache {
	c := &Cache{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		c.tables[t.Name] = t
	}
	return c
}

// Table returns the cached metadata of a table or view.
func (c *Cache) Table(name string) (Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	return t, ok
}

// Snapshot returns a copy of all cached tables keyed by name.
func (c *Cache) Snapshot() map[string]Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.tables)
}

// Names returns the cached relation names, sorted.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.tables))
}

// Load (re)reads the metadata from the database and swaps it in atomically.
func (c *Cache) Load(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	tables, err := loadTables(ctx, c.conn, c.schema, c.relations)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()
	return nil
}

// Connector opens the dedicated connection Watch listens on.
type Connector func(ctx context.Context) (*pgx.Conn, error)

var watchBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Watch reloads the cache whenever ReloadPayload arrives on ReloadChannel.
// It blocks until ctx is done. A lost connection is reopened with
// exponential backoff, after which the cache is reloaded since
// notifications sent in between are gone.
func (c *Cache) Watch(ctx context.Context, connect Connector, logger *zap.Logger) error {
	b := backoff.WithContext(watchBackOff(), ctx)
	connected := false

	op := func() error {
		conn, err := connect(ctx)
		if err != nil {
			return fmt.Errorf("schema watch connect: %w", err)
		}
		defer conn.Close(context.Background())
		b.Reset()

		if connected {
			c.reload(ctx, logger)
		}
		connected = true

		err = pg.Listen(ctx, conn, ReloadChannel, func(n *pgconn.Notification) {
			if n.Payload == ReloadPayload {
				c.reload(ctx, logger)
			}
		})
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errors.New("listen connection closed")
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("schema watch interrupted", zap.Error(err), zap.Duration("retry_in", next))
	}

	err := backoff.RetryNotify(op, b, notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Cache) reload(ctx context.Context, logger *zap.Logger) {
	if err := c.Load(ctx); err != nil {
		logger.Error("schema reload failed", zap.Error(err))
		return
	}
	logger.Info("schema reloaded", zap.Int("relations", len(c.Names())))
}

func loadTables(ctx context.Context, conn pg.Conn, schema string, relations []string) (map[string]Table, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_name, CASE WHEN table_type = 'VIEW' THEN 'VIEW' ELSE 'TABLE' END
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = ANY($2)
		ORDER BY table_name`, schema, relations)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	tables := make(map[string]Table)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			rows.Close()
			return nil, err
		}
		tables[name] = Table{Schema: schema, Name: name, Type: TableType(typ)}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadColumns(ctx, conn, schema, relations, tables); err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	if err := loadForeignKeys(ctx, conn, schema, relations, tables); err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	return tables, nil
}

func loadColumns(ctx context.Context, conn pg.Conn, schema string, relations []string, tables map[string]Table) error {
	rows, err := conn.Query(ctx, `
		SELECT
			c.table_name,
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = ANY($2)
		ORDER BY c.table_name, c.ordinal_position`, schema, relations)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table string
		var col Column
		if err := rows.Scan(&table, &col.Name, &col.DataType, &col.IsNullable, &col.IsPrimaryKey); err != nil {
			return err
		}
		t, ok := tables[table]
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, col)
		if col.IsPrimaryKey {
			t.PrimaryKeys = append(t.PrimaryKeys, col.Name)
		}
		tables[table] = t
	}
	return rows.Err()
}

func loadForeignKeys(ctx context.Context, conn pg.Conn, schema string, relations []string, tables map[string]Table) error {
	rows, err := conn.Query(ctx, `
		SELECT
			tc.table_name,
			kcu.column_name,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = ANY($2)
		ORDER BY tc.table_name, kcu.column_name`, schema, relations)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table string
		var fk ForeignKey
		if err := rows.Scan(&table, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return err
		}
		if t, ok := tables[table]; ok {
			t.ForeignKeys = append(t.ForeignKeys, fk)
			tables[table] = t
		}
	}
	return rows.Err()
}

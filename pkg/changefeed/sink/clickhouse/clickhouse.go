// Package clickhouse appends change events to a ClickHouse table, by
// default coop_changes.
package clickhouse

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/mariukha/CoopManager/pkg/changefeed"
	"go.uber.org/zap"
)

type Config struct {
	Addr        []string      `mapstructure:"addr"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Table       string        `mapstructure:"table"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
}

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) setDefaults() {
	if len(c.Addr) == 0 {
		c.Addr = []string{"localhost:9000"}
	}
	c.Database = cmp.Or(c.Database, "default")
	c.Username = cmp.Or(c.Username, "default")
	c.Table = cmp.Or(c.Table, "coop_changes")
	c.DialTimeout = cmp.Or(c.DialTimeout, 10*time.Second)
}

func (c Config) validate() error {
	if !tableRe.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	if !tableRe.MatchString(c.Database) {
		return fmt.Errorf("invalid database name %q", c.Database)
	}
	return nil
}

func (c Config) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    ts          DateTime64(3),
    op          LowCardinality(String),
    schema_name LowCardinality(String),
    table_name  LowCardinality(String),
    tx_id       Int64,
    lsn         Int64,
    before      String,
    after       String
) ENGINE = MergeTree
ORDER BY (table_name, ts)`, c.Database, c.Table)
}

func (c Config) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s.%s (ts, op, schema_name, table_name, tx_id, lsn, before, after) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.Database, c.Table)
}

// Sink inserts one row per event.
type Sink struct {
	conn   driver.Conn
	insert string
}

func Open(ctx context.Context, config map[string]any, logger *zap.Logger) (changefeed.Sink, error) {
	var cfg Config
	if err := changefeed.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, cfg.createTableSQL()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create %s: %w", cfg.Table, err)
	}
	logger.Debug("clickhouse table ready", zap.String("table", cfg.Database+"."+cfg.Table))
	return &Sink{conn: conn, insert: cfg.insertSQL()}, nil
}

// row returns the column values of an event; row images are stored as
// JSON text, empty for a missing image.
func row(e changefeed.Event) ([]any, error) {
	p := e.Payload
	before, err := image(p.Before)
	if err != nil {
		return nil, err
	}
	after, err := image(p.After)
	if err != nil {
		return nil, err
	}
	return []any{
		time.UnixMilli(p.TsMs).UTC(),
		string(p.Op),
		p.Source.Schema,
		p.Source.Table,
		p.Source.TxID,
		p.Source.Lsn,
		before,
		after,
	}, nil
}

func image(values map[string]any) (string, error) {
	if values == nil {
		return "", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal row image: %w", err)
	}
	return string(b), nil
}

func (s *Sink) Publish(ctx context.Context, e changefeed.Event) error {
	args, err := row(e)
	if err != nil {
		return err
	}
	if err := s.conn.Exec(ctx, s.insert, args...); err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.conn.Close()
}

func init() {
	changefeed.RegisterSink("clickhouse", Open)
}

// Package changefeed streams row changes of the cooperative tables from the
// PostgreSQL write-ahead log (logical replication, pgoutput) and publishes
// them to sinks as Debezium-shaped change events.
//
// Sinks are registered by type with RegisterSink. The log sink is built in;
// nats, mqtt, kafka and clickhouse sinks live in the sink subpackages and
// register themselves when imported.
package changefeed

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/mariukha/CoopManager/pkg/coop"
)

const (
	defaultStandbyUpdateInterval = 10 * time.Second
	defaultBufferSize            = 1000
	defaultSinkBufferSize        = 256
	defaultPublication           = "coop_pub"
	defaultSlot                  = "coop_slot"
	defaultSchema                = "public"
	outputPlugin                 = "pgoutput"
)

// Config is the `feed` section of the configuration file.
type Config struct {
	Replication ReplicationConfig `mapstructure:"replication"`
	Sinks       []SinkConfig      `mapstructure:"sinks"`
}

// ReplicationConfig configures the WAL stream.
type ReplicationConfig struct {
	// ConnString is a regular connection string; replication=database is
	// added when missing.
	ConnString  string `mapstructure:"connString"`
	Publication string `mapstructure:"publication"`
	Slot        string `mapstructure:"slot"`
	Schema      string `mapstructure:"schema"`
	// Tables added to the publication. Empty means every allow-listed table.
	Tables                []string      `mapstructure:"tables"`
	StandbyUpdateInterval time.Duration `mapstructure:"standbyUpdateInterval"`
	BufferSize            int           `mapstructure:"bufferSize"`
	// Streaming asks the server to send large transactions before they
	// commit. Their changes are held back until the stream commits.
	Streaming bool `mapstructure:"streaming"`
}

// SinkConfig names one sink. Config is decoded by the sink type.
type SinkConfig struct {
	Name       string         `mapstructure:"name"`
	Type       string         `mapstructure:"type"`
	Config     map[string]any `mapstructure:"config"`
	BufferSize int            `mapstructure:"bufferSize"`
}

func DefaultConfig() Config {
	return Config{
		Replication: ReplicationConfig{
			Publication:           defaultPublication,
			Slot:                  defaultSlot,
			Schema:                defaultSchema,
			StandbyUpdateInterval: defaultStandbyUpdateInterval,
			BufferSize:            defaultBufferSize,
		},
	}
}

// slot and publication names are interpolated into replication commands
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var ErrNoSinks = errors.New("feed: no sinks configured")

// Validate checks the feed configuration before anything connects.
func (c Config) Validate() error {
	r := c.Replication.withDefaults()
	if r.ConnString == "" {
		return errors.New("feed.replication.connString is required")
	}
	if !identRe.MatchString(r.Slot) {
		return fmt.Errorf("invalid replication slot name %q", r.Slot)
	}
	if !identRe.MatchString(r.Publication) {
		return fmt.Errorf("invalid publication name %q", r.Publication)
	}
	if r.StandbyUpdateInterval < time.Second {
		return errors.New("standby update interval must be at least 1 second")
	}
	for _, t := range r.Tables {
		if !coop.IsTable(t) && t != coop.AuditLogTable {
			return fmt.Errorf("table %q cannot be published", t)
		}
	}

	if len(c.Sinks) == 0 {
		return ErrNoSinks
	}
	seen := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("feed.sinks[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("feed.sinks[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if _, ok := lookupSink(s.Type); !ok {
			return fmt.Errorf("feed.sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

func (r ReplicationConfig) withDefaults() ReplicationConfig {
	def := DefaultConfig().Replication
	r.Publication = cmp.Or(r.Publication, def.Publication)
	r.Slot = cmp.Or(r.Slot, def.Slot)
	r.Schema = cmp.Or(r.Schema, def.Schema)
	r.StandbyUpdateInterval = cmp.Or(r.StandbyUpdateInterval, def.StandbyUpdateInterval)
	r.BufferSize = cmp.Or(r.BufferSize, def.BufferSize)
	return r
}

// publishedTables lists the tables of the publication. Credentials never
// leave the database, whatever the configuration says.
func (r ReplicationConfig) publishedTables() []string {
	tables := r.Tables
	if len(tables) == 0 {
		tables = coop.Tables
	}
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		t = strings.ToLower(t)
		if t != coop.UsersTable && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

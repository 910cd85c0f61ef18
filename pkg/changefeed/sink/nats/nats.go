// Package nats publishes change events to NATS JetStream on subjects
// <prefix>.<schema>.<table>.<op>.
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mariukha/CoopManager/pkg/changefeed"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	Servers  []string `mapstructure:"servers"`
	Prefix   string   `mapstructure:"prefix"`
	Stream   string   `mapstructure:"stream"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	CAFile   string   `mapstructure:"caFile"`
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{nats.DefaultURL}
	}
	c.Prefix = cmp.Or(c.Prefix, "coop")
	c.Stream = cmp.Or(c.Stream, strings.ToUpper(c.Prefix)+"_CHANGES")
}

func (c Config) options(logger *zap.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name("coop-feed"),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if c.Username != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	if c.CAFile != "" {
		opts = append(opts, nats.RootCAs(c.CAFile))
	}
	return opts
}

// Sink is a JetStream publisher.
type Sink struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

func Open(_ context.Context, config map[string]any, logger *zap.Logger) (changefeed.Sink, error) {
	var cfg Config
	if err := changefeed.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), cfg.options(logger)...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if err := ensureStream(js, cfg, logger); err != nil {
		nc.Close()
		return nil, err
	}
	return &Sink{nc: nc, js: js, prefix: cfg.Prefix}, nil
}

// Subject returns the subject an event is published on.
func Subject(prefix string, e changefeed.Event) string {
	return prefix + "." + e.Route(".")
}

func (s *Sink) Publish(ctx context.Context, e changefeed.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if _, err := s.js.Publish(Subject(s.prefix, e), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.nc.Drain()
}

// ensureStream creates the stream capturing <prefix>.> or points an
// existing one at it.
func ensureStream(js nats.JetStreamContext, cfg Config, logger *zap.Logger) error {
	want := &nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Prefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	info, err := js.StreamInfo(cfg.Stream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := js.AddStream(want); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		logger.Info("created stream", zap.String("stream", cfg.Stream))
		return nil
	case err != nil:
		return fmt.Errorf("stream info: %w", err)
	}

	if slices.Equal(info.Config.Subjects, want.Subjects) {
		return nil
	}
	updated := info.Config
	updated.Subjects = want.Subjects
	if _, err := js.UpdateStream(&updated); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	logger.Info("updated stream subjects", zap.String("stream", cfg.Stream))
	return nil
}

func init() {
	changefeed.RegisterSink("nats", Open)
}

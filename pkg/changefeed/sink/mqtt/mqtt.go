// Package mqtt publishes change payloads to an MQTT broker on topics
// <prefix>/<schema>/<table>/<op>.
package mqtt

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/mariukha/CoopManager/pkg/changefeed"
	"go.uber.org/zap"
)

type Config struct {
	Servers        []string      `mapstructure:"servers"`
	Prefix         string        `mapstructure:"prefix"`
	ClientID       string        `mapstructure:"clientID"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{"tcp://localhost:1883"}
	}
	c.Prefix = cmp.Or(c.Prefix, "coop")
	c.ClientID = cmp.Or(c.ClientID, "coop-feed-"+uuid.NewString()[:8])
	c.ConnectTimeout = cmp.Or(c.ConnectTimeout, 10*time.Second)
}

func (c Config) validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d", c.QoS)
	}
	return nil
}

func (c Config) clientOptions(logger *zap.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	for _, s := range c.Servers {
		opts.AddBroker(s)
	}
	opts.SetClientID(c.ClientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	opts.SetConnectTimeout(c.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	return opts
}

// Sink is an MQTT publisher.
type Sink struct {
	client   mqtt.Client
	prefix   string
	qos      byte
	retained bool
}

var errTimeout = errors.New("mqtt: timed out")

func Open(_ context.Context, config map[string]any, logger *zap.Logger) (changefeed.Sink, error) {
	var cfg Config
	if err := changefeed.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := mqtt.NewClient(cfg.clientOptions(logger))
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect: %w", errTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Sink{client: client, prefix: cfg.Prefix, qos: cfg.QoS, retained: cfg.Retained}, nil
}

// Topic returns the topic an event is published on.
func Topic(prefix string, e changefeed.Event) string {
	return prefix + "/" + e.Route("/")
}

// Publish sends the payload without the envelope.
func (s *Sink) Publish(ctx context.Context, e changefeed.Event) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal change payload: %w", err)
	}
	token := s.client.Publish(Topic(s.prefix, e), s.qos, s.retained, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) Close() error {
	s.client.Disconnect(250)
	return nil
}

func init() {
	changefeed.RegisterSink("mqtt", Open)
}

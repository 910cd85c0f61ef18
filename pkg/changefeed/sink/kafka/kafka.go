// Package kafka publishes change events to Kafka topics
// <prefix>.<schema>.<table>.<op>, keyed by table.
package kafka

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/mariukha/CoopManager/pkg/changefeed"
	"go.uber.org/zap"
)

type Config struct {
	Brokers  []string `mapstructure:"brokers"`
	Prefix   string   `mapstructure:"prefix"`
	Version  string   `mapstructure:"version"`
	ClientID string   `mapstructure:"clientID"`
	SASL     SASL     `mapstructure:"sasl"`
	TLS      TLS      `mapstructure:"tls"`
}

type SASL struct {
	Enable    bool   `mapstructure:"enable"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Algorithm string `mapstructure:"algorithm"` // plain, sha256, sha512
}

type TLS struct {
	Enable     bool   `mapstructure:"enable"`
	CAFile     string `mapstructure:"caFile"`
	SkipVerify bool   `mapstructure:"skipVerify"`
}

func (c *Config) setDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	c.Prefix = cmp.Or(c.Prefix, "coop")
	c.Version = cmp.Or(c.Version, "2.1.0")
	c.ClientID = cmp.Or(c.ClientID, "coop-feed")
}

// saramaConfig builds a producer config that waits for all in-sync
// replicas.
func (c Config) saramaConfig() (*sarama.Config, error) {
	conf := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("parse kafka version: %w", err)
	}
	conf.Version = version
	conf.ClientID = c.ClientID

	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Retry.Max = 5
	conf.Producer.Retry.Backoff = time.Second
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true

	if c.SASL.Enable {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true

		switch c.SASL.Algorithm {
		case "", "plain":
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "sha256":
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &scramClient{HashGeneratorFcn: SHA256} }
		case "sha512":
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &scramClient{HashGeneratorFcn: SHA512} }
		default:
			return nil, fmt.Errorf("invalid SASL algorithm %q", c.SASL.Algorithm)
		}
	}

	if c.TLS.Enable {
		tlsConfig, err := c.TLS.config()
		if err != nil {
			return nil, err
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("kafka config: %w", err)
	}
	return conf, nil
}

func (t TLS) config() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: t.SkipVerify}
	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", t.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Sink is a synchronous Kafka producer.
type Sink struct {
	producer sarama.SyncProducer
	prefix   string
	logger   *zap.Logger
}

func Open(_ context.Context, config map[string]any, logger *zap.Logger) (changefeed.Sink, error) {
	var cfg Config
	if err := changefeed.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	conf, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return &Sink{producer: producer, prefix: cfg.Prefix, logger: logger}, nil
}

// Topic returns the topic an event is published on.
func Topic(prefix string, e changefeed.Event) string {
	return prefix + "." + e.Route(".")
}

// message keys by table so that changes of one table keep their order
// within a partition.
func message(prefix string, e changefeed.Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal change event: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: Topic(prefix, e),
		Key:   sarama.StringEncoder(e.Payload.Source.Schema + "." + e.Payload.Source.Table),
		Value: sarama.ByteEncoder(data),
	}, nil
}

func (s *Sink) Publish(_ context.Context, e changefeed.Event) error {
	msg, err := message(s.prefix, e)
	if err != nil {
		return err
	}
	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	s.logger.Debug("published", zap.String("topic", msg.Topic),
		zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (s *Sink) Close() error {
	return s.producer.Close()
}

func init() {
	changefeed.RegisterSink("kafka", Open)
}

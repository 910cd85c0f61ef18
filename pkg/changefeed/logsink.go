package changefeed

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink writes every event to the logger.
type LogSink struct {
	logger *zap.Logger
	level  zapcore.Level
}

type logSinkConfig struct {
	Level string `mapstructure:"level"`
}

func openLogSink(_ context.Context, config map[string]any, logger *zap.Logger) (Sink, error) {
	var cfg logSinkConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, err
		}
	}
	return &LogSink{logger: logger, level: level}, nil
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	p := e.Payload
	s.logger.Log(s.level, "change",
		zap.String("op", string(p.Op)),
		zap.String("schema", p.Source.Schema),
		zap.String("table", p.Source.Table),
		zap.Int64("tx_id", p.Source.TxID),
		zap.Int64("lsn", p.Source.Lsn),
		zap.Any("before", p.Before),
		zap.Any("after", p.After),
	)
	return nil
}

func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

func init() {
	RegisterSink("log", openLogSink)
}

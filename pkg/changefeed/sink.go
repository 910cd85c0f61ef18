package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Sink receives change events. Publish is called from one goroutine per
// sink.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Factory opens a sink from its `config` map.
type Factory func(ctx context.Context, config map[string]any, logger *zap.Logger) (Sink, error)

var (
	sinksMu   sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterSink makes a sink type available to the configuration.
func RegisterSink(typ string, f Factory) {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	factories[typ] = f
}

func lookupSink(typ string) (Factory, bool) {
	sinksMu.RLock()
	defer sinksMu.RUnlock()
	f, ok := factories[typ]
	return f, ok
}

// connectBackOff bounds the connection attempts of one sink.
var connectBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// OpenSink opens the sink described by sc, retrying failed connections with
// exponential backoff.
func OpenSink(ctx context.Context, sc SinkConfig, logger *zap.Logger) (Sink, error) {
	f, ok := lookupSink(sc.Type)
	if !ok {
		return nil, fmt.Errorf("sink %s: unknown type %q", sc.Name, sc.Type)
	}
	logger = logger.With(zap.String("sink", sc.Name), zap.String("type", sc.Type))

	var sink Sink
	op := func() error {
		var err error
		sink, err = f(ctx, sc.Config, logger)
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("sink connect failed", zap.Error(err), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(connectBackOff(), ctx), notify); err != nil {
		return nil, fmt.Errorf("sink %s: %w", sc.Name, err)
	}
	logger.Info("sink connected")
	return sink, nil
}

// DecodeConfig decodes a sink config map into out, a pointer to the sink's
// config struct. Durations may be given as strings like "5s".
func DecodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode sink config: %w", err)
	}
	return nil
}

package changefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mariukha/CoopManager/pkg/metrics"
	"go.uber.org/zap"
)

// Dispatcher fans events out to sinks. Every sink has its own bounded
// queue and goroutine, so a slow sink never stalls the WAL stream; when its
// queue is full the event is dropped for that sink and counted.
type Dispatcher struct {
	targets []*target
	logger  *zap.Logger
}

type target struct {
	name  string
	sink  Sink
	queue chan Event
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Add registers a sink with a queue of buffer events. It must not be called
// after Run.
func (d *Dispatcher) Add(name string, sink Sink, buffer int) {
	if buffer <= 0 {
		buffer = defaultSinkBufferSize
	}
	d.targets = append(d.targets, &target{name: name, sink: sink, queue: make(chan Event, buffer)})
}

// Run dispatches events until the channel is closed or ctx is done. After a
// close the queues are drained; after cancellation queued events are
// abandoned. Sinks are closed before Run returns.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) error {
	var wg sync.WaitGroup
	for _, t := range d.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, t)
		}()
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case e, ok := <-events:
			if !ok {
				break loop
			}
			d.dispatch(e)
		}
	}

	for _, t := range d.targets {
		close(t.queue)
	}
	wg.Wait()

	var errs []error
	for _, t := range d.targets {
		if err := t.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatch(e Event) {
	for _, t := range d.targets {
		select {
		case t.queue <- e:
		default:
			metrics.FeedDropped.WithLabelValues(t.name).Inc()
			d.logger.Warn("sink buffer full, event dropped",
				zap.String("sink", t.name), zap.String("table", e.Payload.Source.Table))
		}
	}
}

func (d *Dispatcher) work(ctx context.Context, t *target) {
	for e := range t.queue {
		if ctx.Err() != nil {
			continue
		}
		start := time.Now()
		err := t.sink.Publish(ctx, e)
		metrics.EventProcessingDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.PublishErrors.WithLabelValues(t.name).Inc()
			d.logger.Error("publish failed",
				zap.String("sink", t.name), zap.String("route", e.Route(".")), zap.Error(err))
			continue
		}
		metrics.FeedEvents.WithLabelValues(t.name).Inc()
	}
}

// Run opens the configured sinks and streams changes to them until ctx is
// done.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	d := NewDispatcher(logger)
	for _, sc := range cfg.Sinks {
		sink, err := OpenSink(ctx, sc, logger)
		if err != nil {
			for _, t := range d.targets {
				t.sink.Close()
			}
			return err
		}
		d.Add(sc.Name, sink, sc.BufferSize)
	}

	repl := cfg.Replication.withDefaults()
	events := make(chan Event, repl.BufferSize)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx, events)
	}()

	err := Replicate(ctx, repl, events, logger)
	close(events)
	return errors.Join(err, <-done)
}

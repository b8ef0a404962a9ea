// Package pipeline wires the collector, normalizer and sink into a run
// loop with batching and shutdown semantics.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/zaphod7777/Phishfindr/internal/collector"
	"github.com/zaphod7777/Phishfindr/internal/event"
	"github.com/zaphod7777/Phishfindr/internal/feed"
	"github.com/zaphod7777/Phishfindr/internal/logging"
	"github.com/zaphod7777/Phishfindr/internal/metrics"
	"github.com/zaphod7777/Phishfindr/internal/normalizer"
	"github.com/zaphod7777/Phishfindr/internal/sink"
)

// Pipeline orchestrates one collector and one sink. The batch capability
// is resolved once here: if batching is requested and the sink supports
// it, one poll cycle's events are delivered as a single batch at the end
// of the cycle. Otherwise every event is written as it arrives.
type Pipeline struct {
	collector *collector.Collector
	sink      sink.Sink
	batch     sink.BatchSink // nil when per-event delivery is in effect
	interval  time.Duration
	log       *logging.Logger
}

// New builds a pipeline. batching is a request, honored only when the
// sink implements BatchSink.
func New(c *collector.Collector, s sink.Sink, batching bool, interval time.Duration, log *logging.Logger) *Pipeline {
	p := &Pipeline{
		collector: c,
		sink:      s,
		interval:  interval,
		log:       log,
	}
	if batching {
		if bs, ok := s.(sink.BatchSink); ok {
			p.batch = bs
		} else {
			log.Warn("sink does not support batching, delivering per event", "sink", s.Name())
		}
	}
	return p
}

// RunOnce performs a single poll cycle and delivers everything collected.
// Sink resources are released before returning.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	defer p.closeSink()

	if err := p.cycle(ctx); err != nil {
		metrics.CycleFailures.Inc()
		return err
	}
	metrics.CyclesTotal.Inc()
	p.log.Info("one-shot run complete", "sink", p.sink.Name())
	return nil
}

// Run polls continuously until ctx is canceled. A failed cycle is logged
// and counted, never fatal. Events already buffered when shutdown begins
// are still flushed to the sink.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.closeSink()

	p.log.Info("starting pipeline",
		"sink", p.sink.Name(),
		"interval", p.interval,
		"batching", p.batch != nil,
	)

	if p.batch == nil {
		// Writes run on a non-cancelable context so events fetched before
		// a shutdown signal still land in the sink.
		writeCtx := context.WithoutCancel(ctx)
		return p.collector.Run(ctx, func(raw feed.RawEvent) error {
			p.deliverOne(writeCtx, normalizer.Normalize(raw))
			return nil
		})
	}

	for {
		if err := p.cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error("poll cycle failed", "error", err)
			metrics.CycleFailures.Inc()
		} else if err == nil {
			metrics.CyclesTotal.Inc()
		}

		select {
		case <-ctx.Done():
			p.log.Info("pipeline stopped")
			return nil
		case <-time.After(p.interval):
		}
	}
}

// cycle collects one poll cycle, normalizing and delivering as configured.
func (p *Pipeline) cycle(ctx context.Context) error {
	if p.batch == nil {
		writeCtx := context.WithoutCancel(ctx)
		return p.collector.Collect(ctx, func(raw feed.RawEvent) error {
			p.deliverOne(writeCtx, normalizer.Normalize(raw))
			return nil
		})
	}

	var buffer []event.Event
	err := p.collector.Collect(ctx, func(raw feed.RawEvent) error {
		buffer = append(buffer, normalizer.Normalize(raw))
		return nil
	})
	// Flush whatever was fetched even when the cycle aborted midway.
	// A canceled ctx must not lose the buffered events.
	p.deliverBatch(context.WithoutCancel(ctx), buffer)
	return err
}

// deliverOne writes one event; a failure is logged and the event dropped.
// Delivery here is only as durable as the sink behind it.
func (p *Pipeline) deliverOne(ctx context.Context, ev event.Event) {
	if err := p.sink.Write(ctx, ev); err != nil {
		p.log.Error("failed to write event", "sink", p.sink.Name(), "id", ev.ID(), "error", err)
		metrics.WriteFailures.WithLabelValues(p.sink.Name()).Inc()
		return
	}
	metrics.EventsWritten.WithLabelValues(p.sink.Name()).Inc()
}

func (p *Pipeline) deliverBatch(ctx context.Context, events []event.Event) {
	if len(events) == 0 {
		return
	}

	result, err := p.batch.WriteBatch(ctx, events)
	if err != nil {
		p.log.Error("batch write failed",
			"sink", p.sink.Name(),
			"events", len(events),
			"written", result.Written,
			"failed", result.Failed,
			"error", err,
		)
	} else {
		p.log.Info("delivered batch", "sink", p.sink.Name(), "written", result.Written, "failed", result.Failed)
	}
	metrics.EventsWritten.WithLabelValues(p.sink.Name()).Add(float64(result.Written))
	metrics.WriteFailures.WithLabelValues(p.sink.Name()).Add(float64(result.Failed))
}

func (p *Pipeline) closeSink() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.sink.Close(ctx); err != nil {
		p.log.Error("failed to close sink", "sink", p.sink.Name(), "error", err)
	}
}

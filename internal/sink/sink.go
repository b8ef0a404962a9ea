// Package sink delivers canonical events to durable backing stores.
package sink

import (
	"context"
	"fmt"

	"github.com/zaphod7777/Phishfindr/internal/config"
	"github.com/zaphod7777/Phishfindr/internal/event"
	"github.com/zaphod7777/Phishfindr/internal/logging"
)

// Sink is the mandatory single-write contract every delivery target
// implements. Writes are at-least-once; sinks dedup on the event id.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	Write(ctx context.Context, ev event.Event) error
	Close(ctx context.Context) error
}

// BatchSink is the optional batch-write capability. Callers resolve it once
// at construction with a type assertion, not per call.
type BatchSink interface {
	Sink
	WriteBatch(ctx context.Context, events []event.Event) (BatchResult, error)
}

// BatchResult aggregates the outcome of one batch delivery.
type BatchResult struct {
	Written int
	Failed  int
}

// Open constructs the selected sink. An unknown kind or an unreachable
// backing store is an unrecoverable startup error.
func Open(ctx context.Context, kind string, cfg *config.Config, log *logging.Logger) (Sink, error) {
	switch kind {
	case "file":
		return NewFile(cfg.File.Path, log)
	case "search":
		return NewOpenSearch(cfg.OpenSearch, log)
	case "relational":
		return NewPostgres(ctx, cfg.Postgres, log)
	default:
		return nil, fmt.Errorf("unknown sink %q", kind)
	}
}

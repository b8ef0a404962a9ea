// Package collector drives the poll cycle against the audit feed and emits
// a stream of raw events.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zaphod7777/Phishfindr/internal/auth"
	"github.com/zaphod7777/Phishfindr/internal/feed"
	"github.com/zaphod7777/Phishfindr/internal/logging"
	"github.com/zaphod7777/Phishfindr/internal/metrics"
)

// EmitFunc receives each raw event as it is fetched. Returning an error
// aborts the cycle.
type EmitFunc func(raw feed.RawEvent) error

// FeedAPI is the slice of the feed protocol the collector consumes.
type FeedAPI interface {
	EnsureSubscription(ctx context.Context, contentType string) error
	ListContent(ctx context.Context, contentType string) ([]feed.ContentRef, error)
	FetchContent(ctx context.Context, ref feed.ContentRef) ([]feed.RawEvent, error)
}

// Collector composes subscription management and content polling into
// bounded poll cycles.
type Collector struct {
	feed         FeedAPI
	tokens       auth.TokenProvider
	contentTypes []string
	interval     time.Duration
	log          *logging.Logger
}

// New creates a collector polling the given content types.
func New(feedAPI FeedAPI, tokens auth.TokenProvider, contentTypes []string, interval time.Duration, log *logging.Logger) *Collector {
	return &Collector{
		feed:         feedAPI,
		tokens:       tokens,
		contentTypes: contentTypes,
		interval:     interval,
		log:          log,
	}
}

// Collect performs exactly one poll cycle, emitting every fetched raw
// event. Error isolation follows the protocol contract: a failed
// subscription start skips that content type, a failed blob is skipped,
// and a failed content listing or token acquisition aborts the cycle.
func (c *Collector) Collect(ctx context.Context, emit EmitFunc) error {
	if _, err := c.tokens.Token(ctx); err != nil {
		return fmt.Errorf("collect cycle: %w", err)
	}

	for _, contentType := range c.contentTypes {
		if err := c.feed.EnsureSubscription(ctx, contentType); err != nil {
			c.log.Warn("failed to ensure subscription", "content_type", contentType, "error", err)
			metrics.SubscriptionFailures.WithLabelValues(contentType).Inc()
			continue
		}

		refs, err := c.feed.ListContent(ctx, contentType)
		if err != nil {
			return fmt.Errorf("collect cycle: %w", err)
		}

		for _, ref := range refs {
			events, err := c.feed.FetchContent(ctx, ref)
			if err != nil {
				if errors.Is(err, feed.ErrNotArray) {
					c.log.Warn("unexpected blob format", "content_type", contentType, "uri", ref.ContentURI, "error", err)
				} else {
					c.log.Error("failed to fetch blob", "content_type", contentType, "uri", ref.ContentURI, "error", err)
				}
				metrics.BlobFailures.WithLabelValues(contentType).Inc()
				continue
			}

			metrics.BlobsFetched.WithLabelValues(contentType).Inc()
			c.log.Debug("fetched blob", "content_type", contentType, "uri", ref.ContentURI, "events", len(events))

			for _, ev := range events {
				if err := emit(ev); err != nil {
					return fmt.Errorf("collect cycle: emit: %w", err)
				}
				metrics.EventsCollected.Inc()
			}
		}
	}

	return nil
}

// Run polls forever: one Collect per interval. A cycle failure is logged
// and counted, never fatal; the loop stops only between cycles when ctx is
// canceled.
func (c *Collector) Run(ctx context.Context, emit EmitFunc) error {
	c.log.Info("starting audit feed monitor", "interval", c.interval, "content_types", c.contentTypes)

	for {
		if err := c.Collect(ctx, emit); err != nil {
			c.log.Error("poll cycle failed", "error", err)
			metrics.CycleFailures.Inc()
		} else {
			metrics.CyclesTotal.Inc()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.interval):
		}
	}
}

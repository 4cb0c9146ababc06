package usecase

import (
	"context"
	"errors"

	"SignalGate/internal/domain/models"
	drepo "SignalGate/internal/domain/repository"
	applogger "SignalGate/pkg/logger"
)

// SnapshotCollector pulls ticks from a live stream into the ingest sink and
// reconnects when the stream fails.
type SnapshotCollector struct {
	stream  drepo.SnapshotStream
	sink    SnapshotSink
	metrics drepo.Metrics
	l       *applogger.Logger
}

func NewSnapshotCollector(stream drepo.SnapshotStream, sink SnapshotSink, metrics drepo.Metrics, l *applogger.Logger) *SnapshotCollector {
	return &SnapshotCollector{stream: stream, sink: sink, metrics: metrics, l: l}
}

func (c *SnapshotCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and consumes in the background until ctx ends.
func (c *SnapshotCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

func (c *SnapshotCollector) run(ctx context.Context) {
	for ctx.Err() == nil {
		snaps, errs := c.stream.Read(ctx)
		c.consume(ctx, snaps, errs)
		if ctx.Err() != nil {
			return
		}
		if err := c.stream.Reconnect(ctx); err != nil {
			c.l.Error("stream reconnect failed", applogger.Error(err))
		}
	}
}

func (c *SnapshotCollector) consume(ctx context.Context, snaps <-chan *models.IndicatorSnapshot, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.l.Warn("stream failed", applogger.Error(err))
			if c.metrics != nil {
				c.metrics.RecordError("stream")
			}
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := c.sink.Submit(ctx, snap); err != nil && !errors.Is(err, context.Canceled) {
				c.l.Debug("snapshot not submitted", applogger.String("symbol", snap.Symbol), applogger.Error(err))
			}
		}
	}
}

func (c *SnapshotCollector) Stop() error { return c.stream.Close() }

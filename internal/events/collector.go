package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/sidmenon/shardselect/pkg/kafka"
)

const (
	defaultBufferSize = 10000
	flushBatchSize    = 100
	flushInterval     = time.Second
)

// Collector buffers selection audit events and publishes them to Kafka off
// the request path. Tracking never blocks a selection: when the buffer is
// full the event is dropped and counted, not queued.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan SelectionEvent
	logger   *slog.Logger
	done     chan struct{}
}

func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan SelectionEvent, bufferSize),
		logger:   slog.Default().With("component", "event-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop. Buffered events are published in batches
// of flushBatchSize, or whatever has accumulated each flushInterval.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		batch := make([]SelectionEvent, 0, flushBatchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(context.Background(), batch)
					return
				}
				batch = append(batch, event)
				if len(batch) >= flushBatchSize {
					c.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				if len(batch) > 0 {
					c.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ctx.Done():
				batch = append(batch, c.drain()...)
				c.flush(context.Background(), batch)
				return
			}
		}
	}()
	c.logger.Info("event collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues one event. Safe for concurrent use.
func (c *Collector) Track(event SelectionEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("selection event dropped (buffer full)", "type", event.Type)
	}
}

// Close stops accepting events and waits for the final flush.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) flush(ctx context.Context, batch []SelectionEvent) {
	if len(batch) == 0 {
		return
	}
	events := make([]kafka.Event, len(batch))
	for i, ev := range batch {
		// Key by event type so consumers reading one partition see each
		// outcome class in order.
		events[i] = kafka.Event{Key: string(ev.Type), Value: ev}
	}
	if err := c.producer.PublishBatch(ctx, events); err != nil {
		c.logger.Error("failed to publish selection events",
			"count", len(events),
			"error", err,
		)
	}
}

func (c *Collector) drain() []SelectionEvent {
	var rest []SelectionEvent
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return rest
			}
			rest = append(rest, event)
		default:
			return rest
		}
	}
}

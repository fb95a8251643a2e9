// Package queued provides a delivery wrapper with a bounded queue for
// high-throughput scenarios. Payloads are queued and delivered by one
// background goroutine; the oldest payload is dropped when the queue is full.
package queued

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strongdm/crashline/pkg/crashline"
)

// QueuedDeliveryOption configures the queued delivery.
type QueuedDeliveryOption func(*queuedDeliveryConfig)

type queuedDeliveryConfig struct {
	queueSize int
	onDropped func(count int)
}

// WithQueueSize sets the maximum number of queued payloads (default: 1000).
func WithQueueSize(size int) QueuedDeliveryOption {
	return func(c *queuedDeliveryConfig) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithOnDropped sets a callback invoked when payloads are dropped due to queue
// overflow or because the delivery is closed.
func WithOnDropped(fn func(count int)) QueuedDeliveryOption {
	return func(c *queuedDeliveryConfig) {
		c.onDropped = fn
	}
}

type job struct {
	cfg     crashline.Configuration
	payload []byte
	opts    crashline.DeliveryOptions
}

// QueuedDelivery wraps a delivery with a bounded queue.
type QueuedDelivery struct {
	inner     crashline.Delivery
	queue     chan job
	done      chan struct{}
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	pending   atomic.Int64
	onDropped func(count int)
}

// NewQueuedDelivery wraps inner with a bounded queue. Deliver returns
// immediately; inner is called synchronously from the drain goroutine, one
// payload at a time.
func NewQueuedDelivery(inner crashline.Delivery, opts ...QueuedDeliveryOption) *QueuedDelivery {
	cfg := &queuedDeliveryConfig{
		queueSize: 1000,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	d := &QueuedDelivery{
		inner:     inner,
		queue:     make(chan job, cfg.queueSize),
		done:      make(chan struct{}),
		onDropped: cfg.onDropped,
	}

	d.wg.Add(1)
	go d.processLoop()

	return d
}

// processLoop drains the queue and hands payloads to the inner delivery.
func (d *QueuedDelivery) processLoop() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		case <-d.done:
			// Drain remaining payloads
			for {
				select {
				case j := <-d.queue:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

func (d *QueuedDelivery) deliver(j job) {
	defer func() {
		if r := recover(); r != nil {
			j.opts.PostDeliveryCallback()
		}
	}()
	d.inner.Deliver(j.cfg, j.payload, j.opts)
}

// Deliver enqueues a payload. Returns immediately. If the queue is full, the
// oldest payload is dropped. After Close, payloads are dropped.
func (d *QueuedDelivery) Deliver(cfg crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	j := d.newJob(cfg, payload, opts)
	if d.closed {
		d.drop(j)
		return
	}

	select {
	case d.queue <- j:
	default:
		d.dropOldestAndEnqueue(j)
	}
}

// newJob wraps the caller's callback so it runs exactly once and keeps the
// pending count in step.
func (d *QueuedDelivery) newJob(cfg crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) job {
	d.pending.Add(1)

	callback := opts.PostDeliveryCallback
	var once sync.Once
	opts.PostDeliveryCallback = func() {
		once.Do(func() {
			d.pending.Add(-1)
			if callback != nil {
				callback()
			}
		})
	}
	// The drain goroutine already runs off the caller's path.
	opts.Asynchronous = false
	return job{cfg: cfg, payload: payload, opts: opts}
}

// dropOldestAndEnqueue drops the oldest payload and enqueues the new one.
func (d *QueuedDelivery) dropOldestAndEnqueue(j job) {
	select {
	case oldest := <-d.queue:
		d.drop(oldest)
	default:
		// Queue was emptied by the drain goroutine, try again
	}

	select {
	case d.queue <- j:
	default:
		// Still full, drop the new payload
		d.drop(j)
	}
}

func (d *QueuedDelivery) drop(j job) {
	j.opts.PostDeliveryCallback()
	if d.onDropped != nil {
		d.onDropped(1)
	}
}

// Pending returns the number of payloads queued or being delivered.
func (d *QueuedDelivery) Pending() int {
	return int(d.pending.Load())
}

// Flush blocks until every accepted payload has been delivered or dropped, or
// ctx is done.
func (d *QueuedDelivery) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return crashline.DeliveryError.Wrap(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops accepting payloads and blocks until the queue is drained.
// Calling Close more than once has no further effect.
func (d *QueuedDelivery) Close() {
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		d.closeMu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}

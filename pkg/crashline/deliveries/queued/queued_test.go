package queued

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strongdm/crashline/pkg/crashline"
)

// slowDelivery is a test delivery that can be slow and tracks payloads.
type slowDelivery struct {
	mu       sync.Mutex
	payloads []string
	async    []bool
	delay    time.Duration
}

func (d *slowDelivery) Deliver(_ crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.payloads = append(d.payloads, string(payload))
	d.async = append(d.async, opts.Asynchronous)
	d.mu.Unlock()
	opts.PostDeliveryCallback()
}

func (d *slowDelivery) getPayloads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]string, len(d.payloads))
	copy(result, d.payloads)
	return result
}

func deliverN(d crashline.Delivery, n int, callback func()) {
	for i := 0; i < n; i++ {
		d.Deliver(crashline.DefaultConfiguration(), []byte(strconv.Itoa(i)), crashline.DeliveryOptions{
			Kind:                 crashline.KindEvent,
			Asynchronous:         true,
			PostDeliveryCallback: callback,
		})
	}
}

func TestQueuedDelivery_ImplementsDeliveryInterface(t *testing.T) {
	d := NewQueuedDelivery(&slowDelivery{})
	defer d.Close()
	var _ crashline.Delivery = d
}

func TestQueuedDelivery_DeliverReturnsImmediately(t *testing.T) {
	inner := &slowDelivery{delay: 100 * time.Millisecond}
	d := NewQueuedDelivery(inner, WithQueueSize(100))
	defer d.Close()

	start := time.Now()
	deliverN(d, 1, nil)
	elapsed := time.Since(start)

	// Deliver should return much faster than the inner delivery's delay
	if elapsed > 50*time.Millisecond {
		t.Errorf("Deliver took %v, should return immediately", elapsed)
	}
}

func TestQueuedDelivery_DropsOldestWhenQueueFull(t *testing.T) {
	inner := &slowDelivery{delay: 50 * time.Millisecond}
	var dropped atomic.Int32
	var callbacks atomic.Int32
	d := NewQueuedDelivery(inner,
		WithQueueSize(2),
		WithOnDropped(func(count int) { dropped.Add(int32(count)) }),
	)

	deliverN(d, 6, func() { callbacks.Add(1) })
	d.Close()

	if dropped.Load() == 0 {
		t.Error("should have dropped payloads when the queue is full")
	}
	if got := int32(len(inner.getPayloads())) + dropped.Load(); got != 6 {
		t.Errorf("delivered + dropped = %d, want 6", got)
	}
	if callbacks.Load() != 6 {
		t.Errorf("callbacks = %d, want 6 (one per payload, dropped or not)", callbacks.Load())
	}

	payloads := inner.getPayloads()
	if payloads[len(payloads)-1] != "5" {
		t.Errorf("newest payload should survive, got %v", payloads)
	}
}

func TestQueuedDelivery_FlushDrainsQueue(t *testing.T) {
	inner := &slowDelivery{}
	d := NewQueuedDelivery(inner, WithQueueSize(100))
	defer d.Close()

	deliverN(d, 10, nil)

	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if n := len(inner.getPayloads()); n != 10 {
		t.Errorf("expected 10 payloads after flush, got %d", n)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
}

func TestQueuedDelivery_FlushTimesOut(t *testing.T) {
	inner := &slowDelivery{delay: 200 * time.Millisecond}
	d := NewQueuedDelivery(inner)
	defer d.Close()

	deliverN(d, 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Flush(ctx); err == nil {
		t.Error("Flush should time out while a payload is in flight")
	}
}

func TestQueuedDelivery_InnerRunsSynchronouslyInOrder(t *testing.T) {
	inner := &slowDelivery{}
	d := NewQueuedDelivery(inner)

	deliverN(d, 5, nil)
	d.Close()

	payloads := inner.getPayloads()
	for i, p := range payloads {
		if p != strconv.Itoa(i) {
			t.Errorf("payload %d = %q, want in-order delivery", i, p)
		}
	}
	for _, async := range inner.async {
		if async {
			t.Error("inner delivery should be called synchronously")
		}
	}
}

func TestQueuedDelivery_DeliverAfterCloseDrops(t *testing.T) {
	inner := &slowDelivery{}
	var dropped atomic.Int32
	d := NewQueuedDelivery(inner, WithOnDropped(func(n int) { dropped.Add(int32(n)) }))
	d.Close()
	d.Close()

	calls := 0
	deliverN(d, 1, func() { calls++ })

	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
	if dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1", dropped.Load())
	}
	if len(inner.getPayloads()) != 0 {
		t.Error("inner delivery should not be called after Close")
	}
}

func TestQueuedDelivery_WithClient(t *testing.T) {
	inner := &slowDelivery{delay: 5 * time.Millisecond}
	d := NewQueuedDelivery(inner)
	client := crashline.New(crashline.WithDelivery(d))
	client.Configure(map[string]any{"api_key": "k"})

	for i := 0; i < 3; i++ {
		client.Notify(context.Background(), errors.New("queued"))
	}
	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	d.Close()

	if n := len(inner.getPayloads()); n != 3 {
		t.Errorf("inner received %d payloads, want 3", n)
	}
}

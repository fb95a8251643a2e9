// Package multi provides a delivery that fans out to multiple deliveries.
// All deliveries receive every payload.
package multi

import (
	"sync"

	"github.com/strongdm/crashline/pkg/crashline"
)

// multiDelivery fans out to multiple deliveries.
type multiDelivery struct {
	deliveries []crashline.Delivery
}

// NewMultiDelivery creates a delivery that sends every payload to each of
// deliveries. The caller's post-delivery callback runs once, after every
// delivery has completed, including asynchronous ones.
func NewMultiDelivery(deliveries ...crashline.Delivery) crashline.Delivery {
	return &multiDelivery{
		deliveries: deliveries,
	}
}

// Deliver sends the payload to all deliveries. A delivery that panics counts
// as completed.
func (m *multiDelivery) Deliver(cfg crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) {
	callback := opts.PostDeliveryCallback

	var wg sync.WaitGroup
	wg.Add(len(m.deliveries))
	for _, d := range m.deliveries {
		sub := opts
		var once sync.Once
		sub.PostDeliveryCallback = func() { once.Do(wg.Done) }
		deliverOne(d, cfg, payload, sub)
	}

	if callback == nil {
		return
	}
	if opts.Asynchronous {
		go func() {
			wg.Wait()
			callback()
		}()
		return
	}
	wg.Wait()
	callback()
}

func deliverOne(d crashline.Delivery, cfg crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) {
	defer func() {
		if r := recover(); r != nil {
			opts.PostDeliveryCallback()
		}
	}()
	d.Deliver(cfg, payload, opts)
}

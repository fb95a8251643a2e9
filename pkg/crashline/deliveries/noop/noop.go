// Package noop provides a delivery that discards all payloads.
// Useful for testing and for disabling error reporting.
package noop

import (
	"github.com/strongdm/crashline/pkg/crashline"
)

// noopDelivery discards all payloads.
type noopDelivery struct{}

// NewNoopDelivery creates a delivery that discards all payloads. The
// post-delivery callback still runs so in-flight tracking completes.
func NewNoopDelivery() crashline.Delivery {
	return &noopDelivery{}
}

// Deliver discards the payload.
func (d *noopDelivery) Deliver(_ crashline.Configuration, _ []byte, opts crashline.DeliveryOptions) {
	if opts.PostDeliveryCallback != nil {
		opts.PostDeliveryCallback()
	}
}

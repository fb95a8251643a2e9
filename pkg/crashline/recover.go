// recover.go provides deferred panic recovery for goroutines, handlers and
// other code that runs outside an instrumented runner.

package crashline

import (
	"context"

	"go.uber.org/zap"
)

// Recover reports a panic as unhandled and swallows it. It must be deferred
// directly:
//
//	func handler(ctx context.Context) {
//	    defer client.Recover(ctx)
//	    // code that might panic
//	}
func (c *Client) Recover(ctx context.Context, opts ...NotifyOption) {
	r := recover()
	if r == nil {
		return
	}
	c.notifyRecovered(ctx, r, opts)
}

// AutoNotify reports a panic as unhandled and then re-panics with the same
// value. Delivery is synchronous so the report survives the crash. It must be
// deferred directly:
//
//	defer client.AutoNotify(ctx)
func (c *Client) AutoNotify(ctx context.Context, opts ...NotifyOption) {
	r := recover()
	if r == nil {
		return
	}
	c.NotifyPanic(ctx, r, opts...)
	panic(r)
}

// NotifyPanic reports an already recovered panic value when auto_notify is
// enabled. Delivery is synchronous.
func (c *Client) NotifyPanic(ctx context.Context, recovered any, opts ...NotifyOption) {
	if !c.Config().AutoNotify {
		return
	}
	c.notifyRecovered(ctx, recovered, append(opts, WithAsynchronous(false)))
}

func (c *Client) notifyRecovered(ctx context.Context, recovered any, opts []NotifyOption) {
	err, coerced := coerceError(recovered)
	if coerced {
		c.logger().Warn("recovered a non-error panic value", zap.String("value", formatRecovered(recovered)))
	}

	opts = append([]NotifyOption{
		WithUnhandled(true),
		WithSeverityReason(SeverityReason{Type: ReasonUnhandledPanic}),
		withPanic(),
	}, opts...)
	c.Notify(ctx, err, opts...)
}

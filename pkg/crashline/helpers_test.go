package crashline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

// captureDelivery records payloads instead of sending them.
type captureDelivery struct {
	mu       sync.Mutex
	payloads []string
	opts     []DeliveryOptions
}

func (d *captureDelivery) Deliver(cfg Configuration, payload []byte, opts DeliveryOptions) {
	d.mu.Lock()
	d.payloads = append(d.payloads, string(payload))
	d.opts = append(d.opts, opts)
	d.mu.Unlock()

	if opts.PostDeliveryCallback != nil {
		opts.PostDeliveryCallback()
	}
}

// of returns the payloads delivered for kind, oldest first.
func (d *captureDelivery) of(kind PayloadKind) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	for i, o := range d.opts {
		if o.Kind == kind {
			out = append(out, d.payloads[i])
		}
	}
	return out
}

// lastEvent returns the only event in the most recent event payload.
func (d *captureDelivery) lastEvent(t *testing.T) gjson.Result {
	t.Helper()
	events := d.of(KindEvent)
	require.NotEmpty(t, events, "no event payload delivered")
	return gjson.Get(events[len(events)-1], "events.0")
}

// newTestClient returns a synchronous client with an API key, a mock clock
// and a test logger. It is closed when the test ends.
func newTestClient(t *testing.T, d Delivery) (*Client, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC))

	c := New(WithDelivery(d), WithLogger(zaptest.NewLogger(t)), WithClock(mock))
	warnings := c.Configure(map[string]any{
		"api_key":       "test-api-key",
		"release_stage": "test",
		"asynchronous":  false,
	})
	require.Empty(t, warnings)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, mock
}

func gjsonString(payload, path string) string {
	return gjson.Get(payload, path).String()
}

package agentssdk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"

	"github.com/strongdm/crashline/pkg/crashline"
)

// capturingDelivery records event payloads for verification.
type capturingDelivery struct {
	mu     sync.Mutex
	events []string
}

func (d *capturingDelivery) Deliver(_ crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) {
	if opts.Kind == crashline.KindEvent {
		d.mu.Lock()
		d.events = append(d.events, string(payload))
		d.mu.Unlock()
	}
	if opts.PostDeliveryCallback != nil {
		opts.PostDeliveryCallback()
	}
}

// getEvents returns events.0 of every delivered event payload.
func (d *capturingDelivery) getEvents() []gjson.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]gjson.Result, len(d.events))
	for i, p := range d.events {
		result[i] = gjson.Get(p, "events.0")
	}
	return result
}

func newTestClient(t *testing.T) (*crashline.Client, *capturingDelivery) {
	t.Helper()
	d := &capturingDelivery{}
	client := crashline.New(crashline.WithDelivery(d), crashline.WithLogger(zaptest.NewLogger(t)))
	client.Configure(map[string]any{
		"api_key":      "test-api-key",
		"asynchronous": false,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Close(ctx)
	})
	return client, d
}

// mockSession implements ContextIDProvider.
type mockSession struct {
	contextID uint64
	hasID     bool
}

func (s *mockSession) ContextID(ctx context.Context) (uint64, error) {
	if !s.hasID {
		return 0, errors.New("no context ID")
	}
	return s.contextID, nil
}

func breadcrumbNames(event gjson.Result) []string {
	var names []string
	for _, b := range event.Get("breadcrumbs").Array() {
		names = append(names, b.Get("name").String())
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package crashline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func deliveryConfig(t *testing.T) Configuration {
	cfg := DefaultConfiguration()
	cfg.APIKey = "delivery-key"
	cfg.Logger = zaptest.NewLogger(t)
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	cfg.Clock = mock
	return cfg
}

func TestHTTPDelivery_PostsWithHeaders(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		headers, body = r.Header.Clone(), string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	var calls int32
	NewHTTPDelivery().Deliver(deliveryConfig(t), []byte(`{"ok":true}`), DeliveryOptions{
		Kind:                 KindSessions,
		Endpoint:             server.URL,
		Headers:              map[string]string{"X-Extra": "1"},
		PostDeliveryCallback: func() { atomic.AddInt32(&calls, 1) },
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, `{"ok":true}`, body)
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "delivery-key", headers.Get(HeaderAPIKey))
	assert.Equal(t, sessionPayloadVersion, headers.Get(HeaderPayloadVersion))
	assert.Equal(t, "2024-05-06T07:08:09Z", headers.Get(HeaderSentAt))
	assert.Equal(t, "1", headers.Get("X-Extra"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPDelivery_RejectedStillCallsBackOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	var calls int32
	NewHTTPDelivery().Deliver(deliveryConfig(t), []byte(`{}`), DeliveryOptions{
		Kind:                 KindEvent,
		Endpoint:             server.URL,
		PostDeliveryCallback: func() { atomic.AddInt32(&calls, 1) },
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPDelivery_TransportErrorStillCallsBackOnce(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	var calls int32
	NewHTTPDelivery().Deliver(deliveryConfig(t), []byte(`{}`), DeliveryOptions{
		Kind:                 KindEvent,
		Endpoint:             endpoint,
		PostDeliveryCallback: func() { atomic.AddInt32(&calls, 1) },
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPDelivery_Asynchronous(t *testing.T) {
	received := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
	}))
	defer server.Close()

	done := make(chan struct{})
	NewHTTPDelivery().Deliver(deliveryConfig(t), []byte(`{}`), DeliveryOptions{
		Kind:                 KindEvent,
		Endpoint:             server.URL,
		Asynchronous:         true,
		PostDeliveryCallback: func() { close(done) },
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("asynchronous delivery did not complete")
	}
	assert.Len(t, received, 1)
}

func TestHTTPDelivery_ReusesClients(t *testing.T) {
	d := NewHTTPDelivery()
	cfg := deliveryConfig(t)

	assert.Same(t, d.client(cfg), d.client(cfg))

	cfg.Timeout = time.Second
	cfg.ProxyHost = "http://proxy.internal:3128"
	other := d.client(cfg)
	assert.NotSame(t, d.client(deliveryConfig(t)), other)
	assert.Equal(t, time.Second, other.Timeout)
}

func TestDeliver_PanickingDeliveryReleasesToken(t *testing.T) {
	cfg := deliveryConfig(t)
	cfg.Delivery = DeliveryFunc(func(Configuration, []byte, DeliveryOptions) { panic("broken delivery") })
	requests := newRequestTracker()

	calls := 0
	deliver(cfg, []byte(`{}`), DeliveryOptions{PostDeliveryCallback: func() { calls++ }}, requests)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, requests.Outstanding())
}

func TestDeliver_CallbackIsIdempotent(t *testing.T) {
	cfg := deliveryConfig(t)
	cfg.Delivery = DeliveryFunc(func(_ Configuration, _ []byte, opts DeliveryOptions) {
		opts.PostDeliveryCallback()
		opts.PostDeliveryCallback()
	})
	requests := newRequestTracker()

	calls := 0
	deliver(cfg, []byte(`{}`), DeliveryOptions{PostDeliveryCallback: func() { calls++ }}, requests)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, requests.Outstanding())
}

func TestRequestTracker_Wait(t *testing.T) {
	requests := newRequestTracker()
	done := requests.NewRequest()
	assert.Equal(t, 1, requests.Outstanding())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, requests.Wait(ctx), "Wait should time out while a request is outstanding")

	go func() {
		time.Sleep(10 * time.Millisecond)
		done()
		done()
	}()
	require.NoError(t, requests.Wait(context.Background()))
	assert.Equal(t, 0, requests.Outstanding())
}

func TestPayloadKind_PayloadVersion(t *testing.T) {
	assert.Equal(t, "4.0", KindEvent.PayloadVersion())
	assert.Equal(t, "1.0", KindSessions.PayloadVersion())
}

// delivery.go defines the Delivery interface and the default HTTP delivery.

package crashline

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PayloadKind distinguishes event payloads from session payloads.
type PayloadKind string

const (
	KindEvent    PayloadKind = "event"
	KindSessions PayloadKind = "sessions"
)

// PayloadVersion returns the payload version header value for the kind.
func (k PayloadKind) PayloadVersion() string {
	if k == KindSessions {
		return sessionPayloadVersion
	}
	return eventPayloadVersion
}

const (
	HeaderAPIKey         = "Crashline-Api-Key"
	HeaderPayloadVersion = "Crashline-Payload-Version"
	HeaderSentAt         = "Crashline-Sent-At"
)

// DeliveryOptions describes one delivery attempt.
type DeliveryOptions struct {
	Kind         PayloadKind
	Endpoint     string
	Asynchronous bool
	Headers      map[string]string

	// PostDeliveryCallback must be invoked exactly once per attempt, whether it
	// succeeds or fails.
	PostDeliveryCallback func()
}

// Delivery sends encoded payloads. Implementations must never panic or
// return errors to the caller; failures are logged and the payload is lost.
// Implementations must be safe for concurrent use.
type Delivery interface {
	Deliver(cfg Configuration, payload []byte, opts DeliveryOptions)
}

// DeliveryFunc adapts a function to the Delivery interface.
type DeliveryFunc func(cfg Configuration, payload []byte, opts DeliveryOptions)

// Deliver calls f.
func (f DeliveryFunc) Deliver(cfg Configuration, payload []byte, opts DeliveryOptions) {
	f(cfg, payload, opts)
}

// HTTPDelivery POSTs payloads to the collector. There is no retry: a failed
// attempt is logged and the payload dropped.
type HTTPDelivery struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPDelivery creates the default delivery.
func NewHTTPDelivery() *HTTPDelivery {
	return &HTTPDelivery{clients: make(map[string]*http.Client)}
}

// Deliver sends payload synchronously, or on a new goroutine when
// opts.Asynchronous is set.
func (d *HTTPDelivery) Deliver(cfg Configuration, payload []byte, opts DeliveryOptions) {
	if opts.Asynchronous {
		go d.post(cfg, payload, opts)
		return
	}
	d.post(cfg, payload, opts)
}

func (d *HTTPDelivery) post(cfg Configuration, payload []byte, opts DeliveryOptions) {
	log := cfg.logger().With(zap.String("kind", string(opts.Kind)), zap.String("endpoint", opts.Endpoint))

	defer func() {
		if r := recover(); r != nil {
			log.Error("delivery panicked", zap.String("panic", formatRecovered(r)))
		}
		if opts.PostDeliveryCallback != nil {
			opts.PostDeliveryCallback()
		}
	}()

	req, err := http.NewRequest(http.MethodPost, opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Error("failed to build delivery request", zap.Error(DeliveryError.Wrap(err)))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, cfg.APIKey)
	req.Header.Set(HeaderPayloadVersion, opts.Kind.PayloadVersion())
	req.Header.Set(HeaderSentAt, cfg.clock().Now().UTC().Format(time.RFC3339))
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client(cfg).Do(req)
	if err != nil {
		log.Error("delivery failed", zap.Error(DeliveryError.Wrap(err)))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("delivery rejected", zap.Int("status", resp.StatusCode))
	}
}

// client returns an http.Client for the configured proxy and timeout. Clients
// are reused so connections are pooled.
func (d *HTTPDelivery) client(cfg Configuration) *http.Client {
	key := cfg.ProxyHost + "|" + cfg.Timeout.String()

	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[key]; ok {
		return c
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyHost != "" {
		if proxy, err := url.Parse(cfg.ProxyHost); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}
	c := &http.Client{Transport: transport, Timeout: cfg.Timeout}
	d.clients[key] = c
	return c
}

// deliver hands payload to the configured Delivery with an in-flight token.
// The token is released exactly once, including when the Delivery panics.
func deliver(cfg Configuration, payload []byte, opts DeliveryOptions, requests *requestTracker) {
	done := requests.NewRequest()
	callback := opts.PostDeliveryCallback
	var once sync.Once
	opts.PostDeliveryCallback = func() {
		once.Do(func() {
			done()
			if callback != nil {
				callback()
			}
		})
	}

	delivery := cfg.Delivery
	if delivery == nil {
		delivery = defaultDelivery
	}

	defer func() {
		if r := recover(); r != nil {
			cfg.logger().Error("delivery panicked", zap.String("panic", formatRecovered(r)))
			opts.PostDeliveryCallback()
		}
	}()
	delivery.Deliver(cfg, payload, opts)
}

var defaultDelivery = NewHTTPDelivery()

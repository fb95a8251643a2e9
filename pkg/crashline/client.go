// client.go provides Client, which decides whether to report an error, runs
// the middleware pipeline and hands the encoded event to a Delivery.

package crashline

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// BreadcrumbCallback may mutate a breadcrumb before it is recorded. Returning
// false discards it.
type BreadcrumbCallback func(b *Breadcrumb) bool

// DropCallback observes events that were not delivered and why.
type DropCallback func(event *Event, reason DropReason)

// Client reports errors and sessions. Safe for concurrent use. Per-context
// state (breadcrumbs, feature flags, request config, the active session)
// travels in context.Context; see CopyForContext and NewContext.
type Client struct {
	mu     sync.RWMutex
	config Configuration

	store          *stateStore
	breadcrumbsKey *LocalKey[*BreadcrumbBuffer]
	flagsKey       *LocalKey[*FeatureFlagDelegate]
	requestKey     *LocalKey[*RequestConfig]
	sessionKey     *LocalKey[*liveSession]

	internal *MiddlewareStack
	user     *MiddlewareStack

	sessions *sessionTracker
	requests *requestTracker

	callbackMu          sync.RWMutex
	breadcrumbCallbacks []BreadcrumbCallback
	dropCallbacks       []DropCallback

	closeOnce sync.Once
	closeErr  error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithConfiguration replaces the default configuration.
func WithConfiguration(cfg Configuration) ClientOption {
	return func(c *Client) {
		delivery, logger, clk := c.config.Delivery, c.config.Logger, c.config.Clock
		c.config = cfg
		if c.config.Delivery == nil {
			c.config.Delivery = delivery
		}
		if c.config.Logger == nil {
			c.config.Logger = logger
		}
		if c.config.Clock == nil {
			c.config.Clock = clk
		}
	}
}

// WithDelivery sets the delivery used for events and sessions.
func WithDelivery(d Delivery) ClientOption {
	return func(c *Client) {
		c.config.Delivery = d
	}
}

// WithLogger sets the logger for diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.config.Logger = logger
	}
}

// WithClock sets the clock used for timestamps and the session flush timer.
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) {
		c.config.Clock = clk
	}
}

// New creates a client with DefaultConfiguration overridden by opts.
func New(opts ...ClientOption) *Client {
	c := &Client{
		config:   DefaultConfiguration(),
		store:    newStateStore(),
		requests: newRequestTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.config.Delivery == nil {
		c.config.Delivery = NewHTTPDelivery()
	}
	if c.config.Logger == nil {
		c.config.Logger = zap.NewNop()
	}
	if c.config.Clock == nil {
		c.config.Clock = clock.New()
	}

	c.breadcrumbsKey = NewLocalKey("breadcrumbs",
		func() *BreadcrumbBuffer { return NewBreadcrumbBuffer(c.Config().MaxBreadcrumbs) },
		(*BreadcrumbBuffer).Copy)
	c.flagsKey = NewLocalKey("feature_flags", NewFeatureFlagDelegate, (*FeatureFlagDelegate).Copy)
	c.requestKey = NewLocalKey("request_config", NewRequestConfig, copyRequestConfig)
	c.sessionKey = NewLocalKey("session",
		func() *liveSession { return nil },
		func(s *liveSession) *liveSession { return s })

	logger := c.config.Logger.Named("middleware")
	c.internal = NewMiddlewareStack(logger)
	c.internal.Append(defaultMiddlewareName, DefaultMiddleware())
	c.internal.Append(sessionMiddlewareName, SessionMiddleware())
	c.user = NewMiddlewareStack(logger)

	c.sessions = newSessionTracker(c.Config, c.requests)
	return c
}

// Config returns a snapshot of the current configuration.
func (c *Client) Config() Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *Client) logger() *zap.Logger {
	cfg := c.Config()
	return cfg.logger()
}

// Configure applies options. Invalid values are logged, returned, and leave
// the previous value in place.
func (c *Client) Configure(options map[string]any) []error {
	c.mu.Lock()
	warnings := c.config.Configure(options)
	logger := c.config.logger()
	c.mu.Unlock()

	for _, w := range warnings {
		logger.Warn("invalid configuration", zap.Error(w))
	}
	return warnings
}

// ConfigureRequest sets metadata for the scope carried by ctx. Values are
// copied, so later changes to options do not reach reported events.
func (c *Client) ConfigureRequest(ctx context.Context, options map[string]any) []error {
	var warnings []error
	c.requestKey.Update(c.store.scope(ctx), func(rc *RequestConfig) *RequestConfig {
		// Stored configs are never mutated; readers copy them without the lock.
		next := copyRequestConfig(rc)
		warnings = next.Configure(options)
		return next
	})
	for _, w := range warnings {
		c.logger().Warn("invalid request configuration", zap.Error(w))
	}
	return warnings
}

// ClearRequest resets the request metadata for the scope carried by ctx.
func (c *Client) ClearRequest(ctx context.Context) {
	c.requestKey.Set(c.store.scope(ctx), NewRequestConfig())
}

// RequestConfig returns a copy of the request metadata for ctx's scope.
func (c *Client) RequestConfig(ctx context.Context) *RequestConfig {
	return copyRequestConfig(c.requestKey.Get(c.store.scope(ctx)))
}

func copyRequestConfig(rc *RequestConfig) *RequestConfig {
	if rc == nil {
		return NewRequestConfig()
	}
	return rc.Copy()
}

// CopyForContext returns a context carrying a copy of ctx's state. Changes
// made through either context afterwards are invisible to the other. The
// active session is shared so forked work counts toward it.
func (c *Client) CopyForContext(ctx context.Context) context.Context {
	return c.store.copyForContext(ctx)
}

// NewContext returns a context carrying fresh, empty state.
func (c *Client) NewContext(ctx context.Context) context.Context {
	return c.store.newContext(ctx)
}

// BeforeNotify registers a callback run before delivery. Returning false
// cancels the event.
func (c *Client) BeforeNotify(fn BeforeFunc) {
	c.user.Append("before_notify", NewSimpleMiddleware(fn, nil))
}

// Middleware returns the user middleware stack.
func (c *Client) Middleware() *MiddlewareStack {
	return c.user
}

// OnBreadcrumb registers a callback run for every breadcrumb before it is
// recorded.
func (c *Client) OnBreadcrumb(fn BreadcrumbCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.breadcrumbCallbacks = append(c.breadcrumbCallbacks, fn)
}

// OnDrop registers a callback run for every event that is not delivered.
func (c *Client) OnDrop(fn DropCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.dropCallbacks = append(c.dropCallbacks, fn)
}

// StartSession begins a new session in ctx's scope. Events reported from the
// scope, or from contexts later copied from it, count toward this session.
func (c *Client) StartSession(ctx context.Context) {
	c.sessionKey.Set(c.store.scope(ctx), c.sessions.start())
}

// Session returns a snapshot of the session active in ctx's scope.
func (c *Client) Session(ctx context.Context) (SessionSnapshot, bool) {
	s, ok := c.sessionKey.Lookup(c.store.scope(ctx))
	if !ok || s == nil {
		return SessionSnapshot{}, false
	}
	return s.Snapshot(), true
}

// SendSessions delivers buffered session counts now.
func (c *Client) SendSessions() {
	c.sessions.SendSessions()
}

// AddFeatureFlag records a flag in ctx's scope.
func (c *Client) AddFeatureFlag(ctx context.Context, name any, variant any) {
	c.flagsKey.Get(c.store.scope(ctx)).Add(name, variant)
}

// AddFeatureFlags records several flags in ctx's scope.
func (c *Client) AddFeatureFlags(ctx context.Context, flags []any) {
	c.flagsKey.Get(c.store.scope(ctx)).Merge(flags)
}

// ClearFeatureFlag removes a flag from ctx's scope.
func (c *Client) ClearFeatureFlag(ctx context.Context, name string) {
	c.flagsKey.Get(c.store.scope(ctx)).Remove(name)
}

// ClearFeatureFlags removes every flag from ctx's scope.
func (c *Client) ClearFeatureFlags(ctx context.Context) {
	c.flagsKey.Get(c.store.scope(ctx)).Clear()
}

// FeatureFlags returns the flags in ctx's scope in insertion order.
func (c *Client) FeatureFlags(ctx context.Context) []FeatureFlag {
	return c.flagsKey.Get(c.store.scope(ctx)).ToList()
}

// LeaveBreadcrumb records a breadcrumb in ctx's scope. Automatic types not
// listed in enabled_breadcrumb_types are ignored.
func (c *Client) LeaveBreadcrumb(ctx context.Context, message string, metadata map[string]any, typ BreadcrumbType) {
	cfg := c.Config()
	crumb := NewBreadcrumb(message, metadata, typ)
	if !cfg.BreadcrumbTypeEnabled(crumb.Type) {
		return
	}
	crumb.Timestamp = cfg.clock().Now().UTC()

	c.callbackMu.RLock()
	callbacks := append([]BreadcrumbCallback(nil), c.breadcrumbCallbacks...)
	c.callbackMu.RUnlock()

	for _, cb := range callbacks {
		if !c.runBreadcrumbCallback(cb, &crumb) {
			return
		}
	}

	c.breadcrumbBuffer(ctx, cfg).Append(crumb)
}

func (c *Client) runBreadcrumbCallback(cb BreadcrumbCallback, crumb *Breadcrumb) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error("breadcrumb callback panicked", zap.String("panic", formatRecovered(r)))
			keep = true
		}
	}()
	return cb(crumb)
}

// Breadcrumbs returns the breadcrumbs in ctx's scope, oldest first.
func (c *Client) Breadcrumbs(ctx context.Context) []Breadcrumb {
	return c.breadcrumbBuffer(ctx, c.Config()).ToList()
}

// breadcrumbBuffer returns the scope's buffer, resized to max_breadcrumbs.
func (c *Client) breadcrumbBuffer(ctx context.Context, cfg Configuration) *BreadcrumbBuffer {
	buf := c.breadcrumbsKey.Get(c.store.scope(ctx))
	if buf.Cap() != cfg.MaxBreadcrumbs {
		buf.Resize(cfg.MaxBreadcrumbs)
	}
	return buf
}

// Outstanding returns the number of deliveries still in flight.
func (c *Client) Outstanding() int {
	return c.requests.Outstanding()
}

// Notify reports err. It never panics and never returns an error: events may
// be filtered, cancelled by middleware, or lost in transit.
func (c *Client) Notify(ctx context.Context, err error, opts ...NotifyOption) {
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error("notify panicked", zap.String("panic", formatRecovered(r)))
		}
	}()

	if err == nil {
		c.logger().Warn("notify called with a nil error")
		err, _ = coerceError(nil)
	}
	c.notify(ctx, err, opts)
}

func (c *Client) notify(ctx context.Context, err error, opts []NotifyOption) {
	cfg := c.Config()
	log := cfg.logger()
	scope := c.store.scope(ctx)

	event := newEvent(err, cfg, copyRequestConfig(c.requestKey.Get(scope)), opts)
	event.Breadcrumbs = c.breadcrumbBuffer(ctx, cfg).ToList()
	event.featureFlags = c.flagsKey.Get(scope).Copy()
	if s, ok := c.sessionKey.Lookup(scope); ok {
		event.session = s
	}

	if !cfg.ShouldNotify(event.ReleaseStage) {
		c.drop(event, DropReleaseStage)
		return
	}
	for _, rec := range event.Errors {
		if cfg.ShouldIgnore(rec.ErrorClass) {
			c.drop(event, DropIgnoredClass)
			return
		}
	}

	delivered := false
	c.internal.Run(event, func(event *Event) {
		detector := detectSeverityChange(event)
		c.user.Run(event, func(event *Event) {
			detector.apply(event)
			delivered = true
			c.deliverEvent(ctx, cfg, event)
		})
	})
	if !delivered {
		log.Debug("event cancelled by middleware", zap.String("error_class", event.ErrorClass()))
		c.drop(event, DropMiddlewareCancelled)
	}
}

func (c *Client) deliverEvent(ctx context.Context, cfg Configuration, event *Event) {
	log := cfg.logger()

	if event.APIKey == "" {
		log.Warn("not delivering event: no api key configured")
		c.drop(event, DropMissingAPIKey)
		return
	}

	payload, err := event.Payload()
	if err != nil {
		log.Error("failed to encode event", zap.Error(err))
		c.drop(event, DropEncodingError)
		return
	}
	if cfg.MaxPayloadSize > 0 && len(payload) > cfg.MaxPayloadSize {
		log.Warn("event payload exceeds max_payload_size after trimming",
			zap.Int("size", len(payload)), zap.Int("max", cfg.MaxPayloadSize))
	}

	deliver(cfg, payload, DeliveryOptions{
		Kind:         KindEvent,
		Endpoint:     cfg.Endpoint,
		Asynchronous: event.Asynchronous,
	}, c.requests)

	c.LeaveBreadcrumb(ctx, event.ErrorClass(), map[string]any{
		"errorClass": event.ErrorClass(),
		"message":    event.Message(),
		"unhandled":  event.Unhandled,
		"severity":   string(event.Severity),
	}, BreadcrumbError)
}

func (c *Client) drop(event *Event, reason DropReason) {
	c.logger().Debug("event dropped",
		zap.String("reason", string(reason)),
		zap.String("error_class", event.ErrorClass()))

	c.callbackMu.RLock()
	callbacks := append([]DropCallback(nil), c.dropCallbacks...)
	c.callbackMu.RUnlock()

	for _, cb := range callbacks {
		cb(event, reason)
	}
}

// Close stops the session flush timer, delivers buffered sessions and waits
// for in-flight deliveries until ctx is done. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if err := c.sessions.Close(ctx); err != nil {
			c.closeErr = err
			return
		}
		c.closeErr = c.requests.Wait(ctx)
	})
	return c.closeErr
}

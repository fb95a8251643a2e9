// Package cxdb provides a delivery that persists crashline payloads to cxdb
// as SystemMessage items.
package cxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/strongdm/crashline/pkg/crashline"
)

// ContextIDPath is where an event payload carries the cxdb context it belongs
// to. The agents-sdk adapter writes it as the "cxdb" metadata tab.
const ContextIDPath = "events.0.metaData.cxdb.contextId"

// CXDBClient is the minimal interface for cxdb client operations.
// The real *cxdb.Client satisfies this interface.
type CXDBClient interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
}

// CXDBDeliveryOption configures the cxdb delivery.
type CXDBDeliveryOption func(*cxdbDeliveryConfig)

type cxdbDeliveryConfig struct {
	orphanLabels []string
	clientTag    string
	timeout      time.Duration
}

// WithOrphanLabels sets labels for orphan error contexts.
func WithOrphanLabels(labels []string) CXDBDeliveryOption {
	return func(c *cxdbDeliveryConfig) {
		c.orphanLabels = labels
	}
}

// WithClientTag sets the client tag for orphan contexts.
func WithClientTag(tag string) CXDBDeliveryOption {
	return func(c *cxdbDeliveryConfig) {
		c.clientTag = tag
	}
}

// WithTimeout bounds each append. Zero uses the client's configured timeout.
func WithTimeout(d time.Duration) CXDBDeliveryOption {
	return func(c *cxdbDeliveryConfig) {
		c.timeout = d
	}
}

// CXDBDelivery writes payloads to cxdb.
type CXDBDelivery struct {
	client       CXDBClient
	orphanLabels []string
	clientTag    string
	timeout      time.Duration
}

// NewCXDBDelivery creates a delivery that writes to cxdb.
func NewCXDBDelivery(client CXDBClient, opts ...CXDBDeliveryOption) *CXDBDelivery {
	cfg := &cxdbDeliveryConfig{
		orphanLabels: []string{"error", "unlinked"},
		clientTag:    "crashline",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &CXDBDelivery{
		client:       client,
		orphanLabels: cfg.orphanLabels,
		clientTag:    cfg.clientTag,
		timeout:      cfg.timeout,
	}
}

// Deliver persists one payload. Failures are logged with the configuration's
// logger; the callback runs once either way.
func (d *CXDBDelivery) Deliver(cfg crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) {
	if opts.Asynchronous {
		go d.deliver(cfg, payload, opts)
		return
	}
	d.deliver(cfg, payload, opts)
}

func (d *CXDBDelivery) deliver(cfg crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) {
	defer func() {
		if opts.PostDeliveryCallback != nil {
			opts.PostDeliveryCallback()
		}
	}()

	timeout := d.timeout
	if timeout <= 0 {
		timeout = cfg.Timeout
	}
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := d.Write(ctx, cfg, payload, opts.Kind); err != nil {
		logger(cfg).Error("cxdb delivery failed",
			zap.String("kind", string(opts.Kind)),
			zap.Error(err))
	}
}

// Write appends payload to its cxdb context, creating an orphan context when
// the payload does not name one.
func (d *CXDBDelivery) Write(ctx context.Context, cfg crashline.Configuration, payload []byte, kind crashline.PayloadKind) error {
	if !gjson.ValidBytes(payload) {
		return crashline.DeliveryError.New("payload is not valid JSON (%d bytes)", len(payload))
	}
	doc := gjson.ParseBytes(payload)

	var contextID uint64
	isOrphan := false

	if id := doc.Get(ContextIDPath); id.Exists() && id.Uint() != 0 {
		contextID = id.Uint()
	} else {
		head, err := d.client.CreateContext(ctx, 0)
		if err != nil {
			return crashline.DeliveryError.New("create orphan context: %v", err)
		}
		contextID = head.ContextID
		isOrphan = true
	}

	item := d.buildConversationItem(cfg, doc, kind, isOrphan)

	encoded, err := cxdbclient.EncodeMsgpack(item)
	if err != nil {
		return crashline.DeliveryError.New("encode payload: %v", err)
	}

	req := &cxdbclient.AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   0,
		TypeID:         cxdtypes.TypeIDConversationItem,
		TypeVersion:    cxdtypes.TypeVersionConversationItem,
		Payload:        encoded,
		IdempotencyKey: item.ID,
	}

	if _, err := d.client.AppendTurn(ctx, req); err != nil {
		return crashline.DeliveryError.New("append turn: %v", err)
	}
	return nil
}

func (d *CXDBDelivery) buildConversationItem(cfg crashline.Configuration, doc gjson.Result, kind crashline.PayloadKind, isOrphan bool) *cxdtypes.ConversationItem {
	id := doc.Get("events.0.id").String()
	if id == "" {
		id = uuid.NewString()
	}

	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: now(cfg).UnixMilli(),
		ID:        id,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   buildTitle(doc, kind),
			Content: doc.Raw,
		},
	}

	// cxdb expects context metadata on the first turn of a context.
	if isOrphan {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    d.orphanLabels,
			ClientTag: d.clientTag,
		}
	}

	return item
}

// buildTitle renders "ErrorClass: message" for events and a session count
// for session payloads.
func buildTitle(doc gjson.Result, kind crashline.PayloadKind) string {
	if kind == crashline.KindSessions {
		var started int64
		for _, n := range doc.Get("sessionCounts.#.sessionsStarted").Array() {
			started += n.Int()
		}
		return fmt.Sprintf("sessions: %d started", started)
	}

	exception := doc.Get("events.0.exceptions.0")
	title := exception.Get("errorClass").String()
	if title == "" {
		title = "error"
	}
	if msg := exception.Get("message").String(); msg != "" {
		title += ": " + truncate(msg, 80)
	}
	if len(title) > 100 {
		title = title[:97] + "..."
	}
	return title
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func logger(cfg crashline.Configuration) *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return zap.NewNop()
}

func now(cfg crashline.Configuration) time.Time {
	if cfg.Clock != nil {
		return cfg.Clock.Now()
	}
	return time.Now()
}

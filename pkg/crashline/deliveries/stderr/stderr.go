// Package stderr provides a delivery that prints payload summaries to stderr
// in human-readable format. Useful for development and debugging.
package stderr

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/strongdm/crashline/pkg/crashline"
)

// StderrDeliveryOption configures the stderr delivery.
type StderrDeliveryOption func(*stderrDeliveryConfig)

type stderrDeliveryConfig struct {
	verbose bool
	out     io.Writer
}

// WithVerbose enables stack frames in the output.
func WithVerbose() StderrDeliveryOption {
	return func(c *stderrDeliveryConfig) {
		c.verbose = true
	}
}

// WithWriter redirects output away from os.Stderr.
func WithWriter(w io.Writer) StderrDeliveryOption {
	return func(c *stderrDeliveryConfig) {
		if w != nil {
			c.out = w
		}
	}
}

// stderrDelivery writes payload summaries to a writer.
type stderrDelivery struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// NewStderrDelivery creates a delivery that writes to stderr.
func NewStderrDelivery(opts ...StderrDeliveryOption) crashline.Delivery {
	cfg := &stderrDeliveryConfig{out: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}
	return &stderrDelivery{
		out:     cfg.out,
		verbose: cfg.verbose,
	}
}

// Deliver formats and writes a summary of the payload. Summaries are read
// straight from the encoded JSON.
func (d *stderrDelivery) Deliver(cfg crashline.Configuration, payload []byte, opts crashline.DeliveryOptions) {
	if opts.PostDeliveryCallback != nil {
		defer opts.PostDeliveryCallback()
	}

	now := time.Now()
	if cfg.Clock != nil {
		now = cfg.Clock.Now()
	}
	timestamp := now.UTC().Format(time.RFC3339)

	var b strings.Builder
	if !gjson.ValidBytes(payload) {
		fmt.Fprintf(&b, "[CRASHLINE] %s INVALID %s payload (%d bytes)\n", timestamp, opts.Kind, len(payload))
	} else if opts.Kind == crashline.KindSessions {
		d.writeSessions(&b, timestamp, gjson.ParseBytes(payload))
	} else {
		gjson.GetBytes(payload, "events").ForEach(func(_, event gjson.Result) bool {
			d.writeEvent(&b, timestamp, event)
			return true
		})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = io.WriteString(d.out, b.String())
}

// writeEvent formats one event:
//
//	[CRASHLINE] <timestamp> <SEVERITY> <errorClass> in <context> (unhandled)
func (d *stderrDelivery) writeEvent(b *strings.Builder, timestamp string, event gjson.Result) {
	parts := []string{
		"[CRASHLINE]",
		timestamp,
		strings.ToUpper(event.Get("severity").String()),
		event.Get("exceptions.0.errorClass").String(),
	}
	if ctx := event.Get("context").String(); ctx != "" {
		parts = append(parts, "in", ctx)
	}
	if event.Get("unhandled").Bool() {
		parts = append(parts, "(unhandled)")
	}
	fmt.Fprintln(b, strings.Join(parts, " "))

	if msg := event.Get("exceptions.0.message").String(); msg != "" {
		fmt.Fprintf(b, "        Message: %s\n", msg)
	}
	if hash := event.Get("groupingHash").String(); hash != "" {
		fmt.Fprintf(b, "        Grouping: %s\n", hash)
	}
	if session := event.Get("session"); session.Exists() {
		fmt.Fprintf(b, "        Session: %s (handled %d, unhandled %d)\n",
			session.Get("id").String(),
			session.Get("events.handled").Int(),
			session.Get("events.unhandled").Int())
	}
	if ctxID := event.Get("metaData.cxdb.contextId"); ctxID.Exists() {
		fmt.Fprintf(b, "        Context: %s\n", ctxID.String())
	}

	// Stack frames (only in verbose mode)
	if !d.verbose {
		return
	}
	event.Get("exceptions").ForEach(func(_, exc gjson.Result) bool {
		fmt.Fprintf(b, "        %s: %s\n", exc.Get("errorClass").String(), exc.Get("message").String())
		exc.Get("stacktrace").ForEach(func(_, frame gjson.Result) bool {
			fmt.Fprintf(b, "          %s (%s:%d)\n",
				frame.Get("method").String(),
				frame.Get("file").String(),
				frame.Get("lineNumber").Int())
			return true
		})
		return true
	})
}

func (d *stderrDelivery) writeSessions(b *strings.Builder, timestamp string, payload gjson.Result) {
	var total int64
	payload.Get("sessionCounts").ForEach(func(_, bucket gjson.Result) bool {
		total += bucket.Get("sessionsStarted").Int()
		return true
	})
	fmt.Fprintf(b, "[CRASHLINE] %s SESSIONS %d started (%s)\n",
		timestamp, total, payload.Get("app.releaseStage").String())
}

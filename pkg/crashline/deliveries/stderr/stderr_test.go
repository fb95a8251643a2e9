package stderr

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/strongdm/crashline/pkg/crashline"
)

const eventPayload = `{
  "apiKey": "k",
  "events": [{
    "id": "evt-1",
    "severity": "error",
    "unhandled": true,
    "context": "jobs/import",
    "groupingHash": "abc123",
    "session": {"id": "sess-1", "events": {"handled": 2, "unhandled": 1}},
    "metaData": {"cxdb": {"contextId": 42}},
    "exceptions": [
      {"errorClass": "*net.OpError", "message": "dial tcp: refused",
       "stacktrace": [{"file": "jobs/import.go", "lineNumber": 88, "method": "main.importAll"}]}
    ]
  }]
}`

func testConfig() crashline.Configuration {
	cfg := crashline.DefaultConfiguration()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	cfg.Clock = mock
	return cfg
}

func TestStderrDelivery_ImplementsDeliveryInterface(t *testing.T) {
	var _ crashline.Delivery = NewStderrDelivery()
}

func TestStderrDelivery_FormatsEvent(t *testing.T) {
	var buf bytes.Buffer
	d := NewStderrDelivery(WithWriter(&buf))

	calls := 0
	d.Deliver(testConfig(), []byte(eventPayload), crashline.DeliveryOptions{
		Kind:                 crashline.KindEvent,
		PostDeliveryCallback: func() { calls++ },
	})
	output := buf.String()

	wants := []string{
		"[CRASHLINE] 2024-01-15T10:30:00Z ERROR *net.OpError in jobs/import (unhandled)",
		"Message: dial tcp: refused",
		"Grouping: abc123",
		"Session: sess-1 (handled 2, unhandled 1)",
		"Context: 42",
	}
	for _, want := range wants {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "main.importAll") {
		t.Errorf("non-verbose output should not include stack frames:\n%s", output)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}

func TestStderrDelivery_WithVerbose_IncludesFrames(t *testing.T) {
	var buf bytes.Buffer
	d := NewStderrDelivery(WithWriter(&buf), WithVerbose())
	d.Deliver(testConfig(), []byte(eventPayload), crashline.DeliveryOptions{Kind: crashline.KindEvent})

	if !strings.Contains(buf.String(), "main.importAll (jobs/import.go:88)") {
		t.Errorf("verbose output missing frame:\n%s", buf.String())
	}
}

func TestStderrDelivery_Sessions(t *testing.T) {
	var buf bytes.Buffer
	d := NewStderrDelivery(WithWriter(&buf))
	payload := `{"app":{"releaseStage":"staging"},"sessionCounts":[{"sessionsStarted":2},{"sessionsStarted":3}]}`
	d.Deliver(testConfig(), []byte(payload), crashline.DeliveryOptions{Kind: crashline.KindSessions})

	if !strings.Contains(buf.String(), "SESSIONS 5 started (staging)") {
		t.Errorf("unexpected sessions output: %q", buf.String())
	}
}

func TestStderrDelivery_InvalidPayload(t *testing.T) {
	var buf bytes.Buffer
	d := NewStderrDelivery(WithWriter(&buf))

	calls := 0
	d.Deliver(testConfig(), []byte(`{not json`), crashline.DeliveryOptions{
		Kind:                 crashline.KindEvent,
		PostDeliveryCallback: func() { calls++ },
	})
	if !strings.Contains(buf.String(), "INVALID event payload") {
		t.Errorf("unexpected output: %q", buf.String())
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}

func TestStderrDelivery_WithClient(t *testing.T) {
	var buf bytes.Buffer
	client := crashline.New(crashline.WithDelivery(NewStderrDelivery(WithWriter(&buf))))
	client.Configure(map[string]any{"api_key": "k", "asynchronous": false})

	client.Notify(context.Background(), errors.New("visible in dev"), crashline.WithSeverity(crashline.SeverityInfo))
	if !strings.Contains(buf.String(), "INFO *errors.errorString") {
		t.Errorf("unexpected output: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Message: visible in dev") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

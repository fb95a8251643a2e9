package crashline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestClient_StartSessionBucketsByMinute(t *testing.T) {
	c, mock := newTestClient(t, &captureDelivery{})
	require.Empty(t, c.Configure(map[string]any{"session_flush_interval": "1h"}))

	c.StartSession(c.NewContext(context.Background()))
	c.StartSession(c.NewContext(context.Background()))
	mock.Set(time.Date(2024, 3, 1, 12, 1, 5, 0, time.UTC))
	c.StartSession(c.NewContext(context.Background()))

	assert.Equal(t, 3, c.sessions.pending())

	c.sessions.mu.Lock()
	counts := c.sessions.counts
	c.sessions.mu.Unlock()
	assert.Equal(t, 2, counts[time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)])
	assert.Equal(t, 1, counts[time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC)])
}

func TestClient_SessionStampsEvents(t *testing.T) {
	d := &captureDelivery{}
	c, _ := newTestClient(t, d)

	ctx := c.NewContext(context.Background())
	c.StartSession(ctx)
	snap, ok := c.Session(ctx)
	require.True(t, ok)

	c.Notify(ctx, errors.New("handled"))
	c.Notify(c.CopyForContext(ctx), errors.New("from a forked context"))
	c.Notify(ctx, errors.New("crash"), WithUnhandled(true))

	events := d.of(KindEvent)
	require.Len(t, events, 3)
	last := gjson.Get(events[2], "events.0.session")
	assert.Equal(t, snap.ID, last.Get("id").String())
	assert.Equal(t, int64(2), last.Get("events.handled").Int())
	assert.Equal(t, int64(1), last.Get("events.unhandled").Int())
	assert.Equal(t, "2024-03-01T12:00:00Z", last.Get("startedAt").String())

	first := gjson.Get(events[0], "events.0.session.events")
	assert.Equal(t, int64(1), first.Get("handled").Int())

	snap, _ = c.Session(ctx)
	assert.Equal(t, SessionEvents{Handled: 2, Unhandled: 1}, snap.Events)
}

func TestClient_NoSessionWithoutStart(t *testing.T) {
	d := &captureDelivery{}
	c, _ := newTestClient(t, d)

	ctx := c.NewContext(context.Background())
	_, ok := c.Session(ctx)
	assert.False(t, ok)

	c.Notify(ctx, errors.New("x"))
	assert.False(t, d.lastEvent(t).Get("session").Exists())
}

func TestClient_SessionsFlushOnTick(t *testing.T) {
	d := &captureDelivery{}
	c, mock := newTestClient(t, d)

	c.StartSession(c.NewContext(context.Background()))
	c.StartSession(c.NewContext(context.Background()))

	mock.Add(defaultSessionFlushInterval)
	require.Eventually(t, func() bool { return len(d.of(KindSessions)) == 1 }, time.Second, 5*time.Millisecond)

	payload := d.of(KindSessions)[0]
	assert.Equal(t, int64(2), gjson.Get(payload, "sessionCounts.0.sessionsStarted").Int())
	assert.Equal(t, 0, c.sessions.pending())

	d.mu.Lock()
	opts := d.opts[len(d.opts)-1]
	d.mu.Unlock()
	assert.Equal(t, DefaultSessionEndpoint, opts.Endpoint)
}

func TestClient_SessionsFlushOnClose(t *testing.T) {
	d := &captureDelivery{}
	c, _ := newTestClient(t, d)

	c.StartSession(c.NewContext(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	sessions := d.of(KindSessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(1), gjson.Get(sessions[0], "sessionCounts.0.sessionsStarted").Int())

	// A second Close is a no-op.
	require.NoError(t, c.Close(context.Background()))
	assert.Len(t, d.of(KindSessions), 1)
}

func TestClient_SessionsSkippedWithoutAPIKey(t *testing.T) {
	d := &captureDelivery{}
	c, _ := newTestClient(t, d)
	require.Empty(t, c.Configure(map[string]any{"api_key": ""}))

	c.StartSession(c.NewContext(context.Background()))
	c.SendSessions()

	assert.Empty(t, d.of(KindSessions))
	assert.Equal(t, 0, c.sessions.pending(), "counts are discarded, not retried")
}

func TestClient_SessionsSkippedForExcludedStage(t *testing.T) {
	d := &captureDelivery{}
	c, _ := newTestClient(t, d)
	require.Empty(t, c.Configure(map[string]any{"notify_release_stages": []string{"production"}}))

	c.StartSession(c.NewContext(context.Background()))
	c.SendSessions()

	assert.Empty(t, d.of(KindSessions))
}

func TestClient_SendSessionsWithNothingBuffered(t *testing.T) {
	d := &captureDelivery{}
	c, _ := newTestClient(t, d)

	c.SendSessions()
	assert.Empty(t, d.of(KindSessions))
}

func TestClient_SessionsAfterCloseAreNotCounted(t *testing.T) {
	d := &captureDelivery{}
	c, _ := newTestClient(t, d)
	require.NoError(t, c.Close(context.Background()))

	ctx := c.NewContext(context.Background())
	c.StartSession(ctx)
	assert.Equal(t, 0, c.sessions.pending())

	c.sessions.mu.Lock()
	ticker := c.sessions.ticker
	c.sessions.mu.Unlock()
	assert.Nil(t, ticker, "no flush timer after close")

	_, ok := c.Session(ctx)
	assert.True(t, ok, "the session still stamps events")
	assert.Empty(t, d.of(KindSessions))
}

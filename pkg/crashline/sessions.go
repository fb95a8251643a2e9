// sessions.go counts session starts in one-minute buckets, flushes them on a
// timer and at shutdown, and stamps events with the active session's counters.

package crashline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SessionSnapshot is a point-in-time copy of a session and its event counters.
type SessionSnapshot struct {
	ID        string
	StartedAt time.Time
	Events    SessionEvents
}

// SessionEvents counts the events reported during a session.
type SessionEvents struct {
	Handled   int
	Unhandled int
}

func (s *SessionSnapshot) toJSON() *sessionJSON {
	return &sessionJSON{
		ID:        s.ID,
		StartedAt: s.StartedAt.UTC().Format(time.RFC3339),
		Events: sessionCountsJSON{
			Handled:   s.Events.Handled,
			Unhandled: s.Events.Unhandled,
		},
	}
}

// liveSession is the tracker's mutable copy of a session. Contexts forked
// from the one that started it share the same pointer.
type liveSession struct {
	mu       sync.Mutex
	snapshot SessionSnapshot
}

// stamp counts one event and returns a copy that later events cannot change.
func (s *liveSession) stamp(unhandled bool) *SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if unhandled {
		s.snapshot.Events.Unhandled++
	} else {
		s.snapshot.Events.Handled++
	}
	snap, ok := deepcopy.Copy(s.snapshot).(SessionSnapshot)
	if !ok {
		snap = s.snapshot
	}
	return &snap
}

// Snapshot returns a copy of the current counters.
func (s *liveSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// sessionTracker aggregates session starts and delivers them in batches.
type sessionTracker struct {
	config   func() Configuration
	requests *requestTracker

	mu      sync.Mutex
	counts  map[time.Time]int
	ticker  *clock.Ticker
	stop    chan struct{}
	stopped chan struct{}
	closed  bool
}

func newSessionTracker(config func() Configuration, requests *requestTracker) *sessionTracker {
	return &sessionTracker{
		config:   config,
		requests: requests,
		counts:   make(map[time.Time]int),
	}
}

// start creates a new live session, counts it in the current minute bucket and
// starts the flush timer on first use. Once the tracker is closed the session
// still stamps events but is not counted, since nothing would deliver it.
func (t *sessionTracker) start() *liveSession {
	cfg := t.config()
	clk := cfg.clock()
	startedAt := clk.Now().UTC().Truncate(time.Minute)

	t.mu.Lock()
	closed := t.closed
	if !closed {
		t.counts[startedAt]++
		if t.ticker == nil {
			t.startTickerLocked(clk, cfg.SessionFlushInterval)
		}
	}
	t.mu.Unlock()

	if closed {
		cfg.logger().Debug("session started after close; not counted")
	}

	return &liveSession{snapshot: SessionSnapshot{
		ID:        uuid.NewString(),
		StartedAt: startedAt,
	}}
}

func (t *sessionTracker) startTickerLocked(clk clock.Clock, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSessionFlushInterval
	}
	ticker := clk.Ticker(interval)
	stop := make(chan struct{})
	stopped := make(chan struct{})
	t.ticker, t.stop, t.stopped = ticker, stop, stopped

	go func() {
		defer close(stopped)
		for {
			select {
			case <-ticker.C:
				t.send(false)
			case <-stop:
				return
			}
		}
	}()
}

// pending returns the number of sessions waiting to be delivered.
func (t *sessionTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return lo.Sum(lo.Values(t.counts))
}

// SendSessions delivers and clears the buffered session counts.
func (t *sessionTracker) SendSessions() {
	t.send(false)
}

func (t *sessionTracker) send(synchronous bool) {
	t.mu.Lock()
	counts := t.counts
	t.counts = make(map[time.Time]int)
	t.mu.Unlock()

	cfg := t.config()
	log := cfg.logger()

	if len(counts) == 0 {
		log.Debug("no sessions to deliver")
		return
	}
	if cfg.APIKey == "" {
		log.Debug("skipping session delivery: no api key configured")
		return
	}
	if !cfg.ShouldNotify(cfg.ReleaseStage) {
		log.Debug("skipping session delivery: release stage not notified",
			zap.String("release_stage", cfg.ReleaseStage))
		return
	}

	payload, err := sessionPayload(cfg, counts)
	if err != nil {
		log.Error("failed to encode sessions", zap.Error(err))
		return
	}

	deliver(cfg, payload, DeliveryOptions{
		Kind:         KindSessions,
		Endpoint:     cfg.SessionEndpoint,
		Asynchronous: cfg.Asynchronous && !synchronous,
	}, t.requests)
}

// Close stops the flush timer and performs a final synchronous flush.
func (t *sessionTracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	ticker, stop, stopped := t.ticker, t.stop, t.stopped
	t.ticker, t.stop, t.stopped = nil, nil, nil
	t.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		select {
		case <-stopped:
		case <-ctx.Done():
			return Error.Wrap(ctx.Err())
		}
	}

	t.send(true)
	return nil
}

func sortedMinutes(counts map[time.Time]int) []time.Time {
	minutes := lo.Keys(counts)
	slices.SortFunc(minutes, func(a, b time.Time) int { return a.Compare(b) })
	return minutes
}

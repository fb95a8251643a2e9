// inflight.go tracks deliveries that have started but not yet completed.

package crashline

import (
	"context"
	"sync"
	"time"
)

// requestTracker is a counted set of opaque in-flight tokens.
type requestTracker struct {
	mu       sync.Mutex
	next     uint64
	inflight map[uint64]struct{}
}

func newRequestTracker() *requestTracker {
	return &requestTracker{inflight: make(map[uint64]struct{})}
}

// NewRequest registers a delivery and returns the function completing it.
// Calling the returned function more than once has no further effect.
func (t *requestTracker) NewRequest() (done func()) {
	t.mu.Lock()
	t.next++
	token := t.next
	t.inflight[token] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.inflight, token)
			t.mu.Unlock()
		})
	}
}

// Outstanding returns the number of deliveries not yet completed.
func (t *requestTracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// Wait blocks until no deliveries are outstanding or ctx is done.
func (t *requestTracker) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if t.Outstanding() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return Error.Wrap(ctx.Err())
		case <-ticker.C:
		}
	}
}

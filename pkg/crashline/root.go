// root.go holds the process-wide list of panic handlers. Nothing is installed
// implicitly: callers register clients with Install and defer HandlePanic in
// goroutines they want covered.

package crashline

import (
	"context"
	"sync"

	"github.com/zeebo/errs"
)

// PanicHandler receives panics caught by HandlePanic and is closed by
// Shutdown. *Client implements it.
type PanicHandler interface {
	NotifyPanic(ctx context.Context, recovered any, opts ...NotifyOption)
	Close(ctx context.Context) error
}

type reportingRoot struct {
	mu       sync.Mutex
	next     int
	handlers map[int]PanicHandler
	order    []int
}

var root = &reportingRoot{handlers: make(map[int]PanicHandler)}

// Install registers h with the process-wide reporting root. The returned
// function removes it; calling it more than once has no further effect.
func Install(h PanicHandler) (uninstall func()) {
	root.mu.Lock()
	defer root.mu.Unlock()

	root.next++
	id := root.next
	root.handlers[id] = h
	root.order = append(root.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			root.mu.Lock()
			defer root.mu.Unlock()
			delete(root.handlers, id)
			for i, other := range root.order {
				if other == id {
					root.order = append(root.order[:i:i], root.order[i+1:]...)
					break
				}
			}
		})
	}
}

// InstalledHandlers returns the installed handlers in installation order.
func InstalledHandlers() []PanicHandler {
	root.mu.Lock()
	defer root.mu.Unlock()

	out := make([]PanicHandler, 0, len(root.order))
	for _, id := range root.order {
		out = append(out, root.handlers[id])
	}
	return out
}

// HandlePanic reports a panic to every installed handler and re-panics. It
// must be deferred directly:
//
//	go func() {
//	    defer crashline.HandlePanic(ctx)
//	    work()
//	}()
func HandlePanic(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	for _, h := range InstalledHandlers() {
		notifyHandler(ctx, h, r)
	}
	panic(r)
}

// notifyHandler isolates handlers from each other's failures.
func notifyHandler(ctx context.Context, h PanicHandler, recovered any) {
	defer func() {
		_ = recover()
	}()
	h.NotifyPanic(ctx, recovered)
}

// Shutdown closes every installed handler, flushing sessions and waiting for
// in-flight deliveries until ctx is done.
func Shutdown(ctx context.Context) error {
	var group errs.Group
	for _, h := range InstalledHandlers() {
		group.Add(h.Close(ctx))
	}
	return group.Err()
}

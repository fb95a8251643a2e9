// middleware.go implements the named, ordered middleware stack that events
// pass through before delivery.

package crashline

import (
	"sync"

	"go.uber.org/zap"
)

// Middleware observes or mutates an event. Call next to continue the chain;
// returning without calling next cancels the event.
type Middleware interface {
	Call(event *Event, next func(*Event))
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(event *Event, next func(*Event))

// Call calls f.
func (f MiddlewareFunc) Call(event *Event, next func(*Event)) {
	f(event, next)
}

// BeforeFunc runs before the rest of the chain. Returning false cancels the
// event.
type BeforeFunc func(event *Event) bool

// AfterFunc runs after the rest of the chain has completed.
type AfterFunc func(event *Event)

// NewSimpleMiddleware builds a middleware from optional before and after
// callbacks.
func NewSimpleMiddleware(before BeforeFunc, after AfterFunc) Middleware {
	return MiddlewareFunc(func(event *Event, next func(*Event)) {
		if before != nil && !before(event) {
			return
		}
		next(event)
		if after != nil {
			after(event)
		}
	})
}

type namedMiddleware struct {
	name string
	m    Middleware
}

// MiddlewareStack is an ordered list of named middleware. Safe for
// concurrent use; Run operates on a snapshot of the stack.
type MiddlewareStack struct {
	mu     sync.Mutex
	stack  []namedMiddleware
	logger *zap.Logger
}

// NewMiddlewareStack creates an empty stack. A nil logger discards output.
func NewMiddlewareStack(logger *zap.Logger) *MiddlewareStack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MiddlewareStack{logger: logger}
}

// Append adds m at the end of the stack.
func (s *MiddlewareStack) Append(name string, m Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, namedMiddleware{name: name, m: m})
}

// InsertBefore adds m before the first middleware named target, or at the end
// when target is not found.
func (s *MiddlewareStack) InsertBefore(target, name string, m Middleware) {
	s.insert(target, name, m, 0)
}

// InsertAfter adds m after the first middleware named target, or at the end
// when target is not found.
func (s *MiddlewareStack) InsertAfter(target, name string, m Middleware) {
	s.insert(target, name, m, 1)
}

func (s *MiddlewareStack) insert(target, name string, m Middleware, offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := namedMiddleware{name: name, m: m}
	for i, nm := range s.stack {
		if nm.name == target {
			at := i + offset
			s.stack = append(s.stack[:at], append([]namedMiddleware{entry}, s.stack[at:]...)...)
			return
		}
	}
	s.stack = append(s.stack, entry)
}

// Remove deletes every middleware named name.
func (s *MiddlewareStack) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.stack[:0]
	for _, nm := range s.stack {
		if nm.name != name {
			kept = append(kept, nm)
		}
	}
	s.stack = kept
}

// Names returns the middleware names in order.
func (s *MiddlewareStack) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.stack))
	for i, nm := range s.stack {
		names[i] = nm.name
	}
	return names
}

// Len returns the number of middleware in the stack.
func (s *MiddlewareStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// Run passes event through each middleware in order and then to final.
// final runs at most once. A middleware that returns without calling next
// stops the chain and final never runs. A panicking middleware is logged and
// treated as if the chain completed, so final still runs exactly once.
func (s *MiddlewareStack) Run(event *Event, final func(*Event)) {
	s.mu.Lock()
	stack := append([]namedMiddleware(nil), s.stack...)
	s.mu.Unlock()

	var finished bool
	finish := func(e *Event) {
		if finished {
			return
		}
		finished = true
		final(e)
	}

	chain := finish
	for i := len(stack) - 1; i >= 0; i-- {
		nm, next := stack[i], chain
		chain = func(e *Event) {
			nm.m.Call(e, next)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("middleware panicked", zap.String("panic", formatRecovered(r)))
			finish(event)
		}
	}()
	chain(event)
}

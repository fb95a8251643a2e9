// context.go isolates mutable reporting state (breadcrumbs, feature flags,
// request metadata, the active session) per logical unit of work and carries
// it through context.Context.

package crashline

import (
	"context"
	"sync"
)

// Scope holds the state of one logical context. Values are created lazily on
// first access and copied explicitly when work forks into a new context.
type Scope struct {
	mu     sync.Mutex
	values map[any]any
	copier map[any]func(any) any
}

func newScope() *Scope {
	return &Scope{
		values: make(map[any]any),
		copier: make(map[any]func(any) any),
	}
}

// copy snapshots every value using the copier registered for its key.
func (s *Scope) copy() *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := newScope()
	for k, v := range s.values {
		cp := s.copier[k]
		c.values[k] = cp(v)
		c.copier[k] = cp
	}
	return c
}

// LocalKey identifies one piece of scope-local state of type T.
type LocalKey[T any] struct {
	name   string
	newFn  func() T
	copyFn func(T) T
}

// NewLocalKey declares a scope-local value. newFn builds the initial value on
// first access; copyFn duplicates it for a forked context. A nil copyFn uses
// a deep copy that tolerates cycles.
func NewLocalKey[T any](name string, newFn func() T, copyFn func(T) T) *LocalKey[T] {
	if copyFn == nil {
		copyFn = func(v T) T {
			c, ok := copyValue(v).(T)
			if !ok {
				return v
			}
			return c
		}
	}
	return &LocalKey[T]{name: name, newFn: newFn, copyFn: copyFn}
}

// Name returns the key name.
func (k *LocalKey[T]) Name() string { return k.name }

// Get returns the value for this key in s, creating it if needed.
func (k *LocalKey[T]) Get(s *Scope) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.values[k]; ok {
		return v.(T)
	}
	v := k.newFn()
	k.storeLocked(s, v)
	return v
}

// Lookup returns the value for this key without creating it.
func (k *LocalKey[T]) Lookup(s *Scope) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[k]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Set replaces the value for this key in s.
func (k *LocalKey[T]) Set(s *Scope, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k.storeLocked(s, v)
}

// Update applies fn to the value for this key while holding the scope lock.
// fn must not touch other keys of the same scope.
func (k *LocalKey[T]) Update(s *Scope, fn func(T) T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[k]
	if !ok {
		v = k.newFn()
	}
	k.storeLocked(s, fn(v.(T)))
}

// Delete removes the value for this key from s.
func (k *LocalKey[T]) Delete(s *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, k)
	delete(s.copier, k)
}

func (k *LocalKey[T]) storeLocked(s *Scope, v T) {
	s.values[k] = v
	s.copier[k] = func(a any) any { return k.copyFn(a.(T)) }
}

// stateStore hands out scopes for one client. Scopes live in context.Context
// values under a key unique to the store, so they are reclaimed together with
// the contexts that reference them. Contexts without a scope share the root.
type stateStore struct {
	rootOnce sync.Once
	root     *Scope
}

// scopeKey is unique per store; two clients never see each other's scopes.
type scopeKey struct {
	store *stateStore
}

func newStateStore() *stateStore {
	return &stateStore{}
}

// rootScope returns the scope used when a context carries none.
func (st *stateStore) rootScope() *Scope {
	st.rootOnce.Do(func() {
		st.root = newScope()
	})
	return st.root
}

// scope returns the scope attached to ctx, or the root scope.
func (st *stateStore) scope(ctx context.Context) *Scope {
	if ctx != nil {
		if s, ok := ctx.Value(scopeKey{store: st}).(*Scope); ok && s != nil {
			return s
		}
	}
	return st.rootScope()
}

// copyForContext derives a context carrying a copy of ctx's current scope.
// Later mutations on either side are not visible to the other.
func (st *stateStore) copyForContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{store: st}, st.scope(ctx).copy())
}

// newContext derives a context carrying a fresh, empty scope.
func (st *stateStore) newContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{store: st}, newScope())
}

// hasScope reports whether ctx carries its own scope for this store.
func (st *stateStore) hasScope(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(scopeKey{store: st}).(*Scope)
	return ok
}

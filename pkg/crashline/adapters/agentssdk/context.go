// context.go carries run and cxdb context identifiers through a context.Context.

package agentssdk

import "context"

type runIDKey struct{}

type contextIDKey struct{}

type contextIDSet struct {
	id uint64
}

// WithRunID returns a context carrying the id of the instrumented run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext extracts the run ID from context.
// Returns empty string and false if not set or if the run ID is empty.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// WithContextID returns a context with the cxdb context ID attached. It is
// used when the session cannot provide one.
func WithContextID(ctx context.Context, contextID uint64) context.Context {
	return context.WithValue(ctx, contextIDKey{}, contextIDSet{id: contextID})
}

// ContextIDFromContext extracts the cxdb context ID from context.
func ContextIDFromContext(ctx context.Context) (uint64, bool) {
	set, ok := ctx.Value(contextIDKey{}).(contextIDSet)
	if !ok {
		return 0, false
	}
	return set.id, true
}

// ContextIDProvider is an optional interface that session implementations can
// satisfy to link reports to the cxdb context backing the conversation.
type ContextIDProvider interface {
	ContextID(ctx context.Context) (uint64, error)
}

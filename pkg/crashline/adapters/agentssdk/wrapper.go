// wrapper.go implements WrappedRunner, which reports run errors and panics.
// Hooks only leave breadcrumbs; reporting happens at the runner boundary.

package agentssdk

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	"go.uber.org/zap"

	"github.com/strongdm/crashline/pkg/crashline"
)

// WrappedRunner wraps an agents.Runner to capture errors and panics.
type WrappedRunner struct {
	inner  *agents.Runner
	client *crashline.Client
	logger *zap.Logger
}

// Run executes the agent with the given input and session, capturing any
// errors or panics.
func (w *WrappedRunner) Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (result agents.RunResult, err error) {
	err = w.capture(ctx, session, cfg, func(ctx context.Context, cfg *agents.RunConfig) error {
		var runErr error
		result, runErr = w.inner.Run(ctx, agent, input, session, cfg)
		return runErr
	})
	return result, err
}

// RunOnce executes a single turn of the agent, capturing any errors or panics.
func (w *WrappedRunner) RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (result agents.RunResult, err error) {
	err = w.capture(ctx, nil, cfg, func(ctx context.Context, cfg *agents.RunConfig) error {
		var runErr error
		result, runErr = w.inner.RunOnce(ctx, agent, input, cfg)
		return runErr
	})
	return result, err
}

// RunStream starts a streaming run, capturing any errors at the start.
// Errors surfaced while consuming the stream are not captured.
func (w *WrappedRunner) RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (stream *agents.StreamingRun, err error) {
	err = w.capture(ctx, session, cfg, func(ctx context.Context, cfg *agents.RunConfig) error {
		var runErr error
		stream, runErr = w.inner.RunStream(ctx, agent, input, session, cfg)
		return runErr
	})
	return stream, err
}

// Inner returns the underlying Runner for advanced usage.
func (w *WrappedRunner) Inner() *agents.Runner {
	return w.inner
}

// capture forks the reporting scope, wires the hooks and reports what fn
// returns or panics with.
func (w *WrappedRunner) capture(ctx context.Context, session any, cfg *agents.RunConfig, fn func(context.Context, *agents.RunConfig) error) error {
	ctx = w.client.CopyForContext(ctx)
	if w.client.Config().AutoCaptureSessions {
		w.client.StartSession(ctx)
	}

	run := newRunState(uuid.NewString(), w.extractContextID(ctx, session))
	ctx = WithRunID(ctx, run.id)

	defer w.capturePanic(ctx, run)

	err := fn(ctx, w.wrapRunConfig(cfg, run))
	if err != nil {
		w.captureError(ctx, run, err)
	}
	return err
}

// extractContextID extracts the cxdb context ID from a session implementing
// ContextIDProvider, falling back to the one carried by ctx.
func (w *WrappedRunner) extractContextID(ctx context.Context, session any) uint64 {
	if provider, ok := session.(ContextIDProvider); ok {
		id, err := provider.ContextID(ctx)
		if err == nil {
			return id
		}
		w.logger.Debug("session did not provide a cxdb context id", zap.Error(err))
	}
	if id, ok := ContextIDFromContext(ctx); ok {
		return id
	}
	return 0
}

// wrapRunConfig clones cfg and wraps its hooks so they leave breadcrumbs.
func (w *WrappedRunner) wrapRunConfig(cfg *agents.RunConfig, run *runState) *agents.RunConfig {
	var cloned agents.RunConfig
	if cfg != nil {
		cloned = *cfg
	}
	cloned.Hooks = newHookAdapter(w.client, cloned.Hooks, run, w.logger)
	return &cloned
}

func (w *WrappedRunner) captureError(ctx context.Context, run *runState, err error) {
	w.client.Notify(ctx, err, w.reportOptions(run, classifyError(err))...)
}

// capturePanic recovers from a panic, reports it synchronously, and re-panics.
func (w *WrappedRunner) capturePanic(ctx context.Context, run *runState) {
	if r := recover(); r != nil {
		w.client.NotifyPanic(ctx, r, w.reportOptions(run, "panic")...)
		panic(r)
	}
}

func (w *WrappedRunner) reportOptions(run *runState, errorType string) []crashline.NotifyOption {
	info := run.snapshot()
	opts := []crashline.NotifyOption{
		crashline.WithUnhandled(true),
		crashline.WithSeverityReason(crashline.SeverityReason{
			Type:       crashline.ReasonUnhandledExceptionMiddleware,
			Attributes: map[string]string{"framework": Framework},
		}),
		crashline.WithMetadata("agent", info.tab(errorType)),
	}
	if info.AgentName != "" {
		opts = append(opts, crashline.WithContext(info.AgentName))
	}
	if run.contextID != 0 {
		opts = append(opts, crashline.WithMetadata("cxdb", map[string]any{"contextId": run.contextID}))
	}
	return opts
}

// runInfo is what the hooks last observed during a run.
type runInfo struct {
	RunID      string
	AgentName  string
	Model      string
	ToolName   string
	ToolCallID string
	// Operation is the kind of work in progress: llm, tool or handoff.
	Operation string
}

func (i runInfo) tab(errorType string) map[string]any {
	return lo.PickBy(map[string]any{
		"runId":      i.RunID,
		"errorType":  errorType,
		"agentName":  i.AgentName,
		"model":      i.Model,
		"toolName":   i.ToolName,
		"toolCallId": i.ToolCallID,
		"operation":  i.Operation,
	}, func(_ string, v any) bool {
		return v != ""
	})
}

// classifyError determines the error type based on the error.
func classifyError(err error) string {
	if err == nil {
		return "error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if containsGuardrailPattern(err.Error()) {
		return "guardrail"
	}
	return "error"
}

var guardrailPatterns = []string{
	"guardrail",
	"content policy",
	"safety filter",
	"blocked by policy",
}

// containsGuardrailPattern checks if an error message indicates a guardrail
// violation. Matching is case-insensitive.
func containsGuardrailPattern(msg string) bool {
	msg = strings.ToLower(msg)
	return lo.SomeBy(guardrailPatterns, func(p string) bool {
		return strings.Contains(msg, p)
	})
}

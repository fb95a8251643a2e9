// hooks.go implements RunHooks that leave a breadcrumb per lifecycle step and
// remember the operation in progress for the runner's report.

package agentssdk

import (
	"context"
	"sync"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
	"go.uber.org/zap"

	"github.com/strongdm/crashline/pkg/crashline"
)

// runState tracks one instrumented run.
type runState struct {
	id        string
	contextID uint64

	mu   sync.Mutex
	info runInfo
}

func newRunState(id string, contextID uint64) *runState {
	return &runState{id: id, contextID: contextID, info: runInfo{RunID: id}}
}

// update applies fn under the lock. fn must not call back into the state.
func (s *runState) update(fn func(i *runInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.info)
}

func (s *runState) snapshot() runInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// HookAdapter implements agents.RunHooks. It leaves breadcrumbs on the client
// and delegates to an inner RunHooks; only the inner hooks' errors are returned.
type HookAdapter struct {
	client *crashline.Client
	inner  agents.RunHooks
	run    *runState
	logger *zap.Logger
}

// NewHookAdapter wraps an existing RunHooks (which may be nil) so that every
// lifecycle step leaves a breadcrumb on client.
func NewHookAdapter(client *crashline.Client, inner agents.RunHooks) agents.RunHooks {
	return newHookAdapter(client, inner, newRunState("", 0), zap.NewNop())
}

func newHookAdapter(client *crashline.Client, inner agents.RunHooks, run *runState, logger *zap.Logger) *HookAdapter {
	return &HookAdapter{
		client: client,
		inner:  inner,
		run:    run,
		logger: logger,
	}
}

// OnAgentStart leaves a navigation breadcrumb.
func (h *HookAdapter) OnAgentStart(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent) error {
	name := agentName(agent)
	h.run.update(func(i *runInfo) {
		i.AgentName = name
	})
	h.client.LeaveBreadcrumb(ctx, "Agent started", map[string]any{"agent": name}, crashline.BreadcrumbNavigation)

	if h.inner != nil {
		return h.delegate("agent_start", h.inner.OnAgentStart(ctx, runCtx, agent))
	}
	return nil
}

// OnAgentEnd leaves a navigation breadcrumb.
func (h *HookAdapter) OnAgentEnd(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent, result agents.RunResult) error {
	h.client.LeaveBreadcrumb(ctx, "Agent finished", map[string]any{"agent": agentName(agent)}, crashline.BreadcrumbNavigation)

	if h.inner != nil {
		return h.delegate("agent_end", h.inner.OnAgentEnd(ctx, runCtx, agent, result))
	}
	return nil
}

// OnHandoff leaves a navigation breadcrumb naming both agents.
func (h *HookAdapter) OnHandoff(ctx context.Context, runCtx *agents.RunContext, from *agents.Agent, to *agents.Agent) error {
	h.run.update(func(i *runInfo) {
		i.Operation = "handoff"
		i.AgentName = agentName(to)
	})
	h.client.LeaveBreadcrumb(ctx, "Handoff", map[string]any{
		"from": agentName(from),
		"to":   agentName(to),
	}, crashline.BreadcrumbNavigation)

	if h.inner != nil {
		return h.delegate("handoff", h.inner.OnHandoff(ctx, runCtx, from, to))
	}
	return nil
}

// OnToolStart leaves a process breadcrumb. Tool arguments are not recorded.
func (h *HookAdapter) OnToolStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, call llmsdk.ToolCall) error {
	name := agentName(agent)
	h.run.update(func(i *runInfo) {
		if name != "" {
			i.AgentName = name
		}
		i.Operation = "tool"
		i.ToolName = tool.Name
		i.ToolCallID = call.ID
	})
	h.client.LeaveBreadcrumb(ctx, "Tool started", map[string]any{
		"agent":  name,
		"tool":   tool.Name,
		"callId": call.ID,
	}, crashline.BreadcrumbProcess)

	if h.inner != nil {
		return h.delegate("tool_start", h.inner.OnToolStart(ctx, runCtx, agent, tool, call))
	}
	return nil
}

// OnToolEnd leaves a process breadcrumb with the output size.
func (h *HookAdapter) OnToolEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, output string) error {
	h.client.LeaveBreadcrumb(ctx, "Tool finished", map[string]any{
		"agent":        agentName(agent),
		"tool":         tool.Name,
		"outputLength": len(output),
	}, crashline.BreadcrumbProcess)

	if h.inner != nil {
		return h.delegate("tool_end", h.inner.OnToolEnd(ctx, runCtx, agent, tool, output))
	}
	return nil
}

// OnLLMStart leaves a request breadcrumb with request metadata.
func (h *HookAdapter) OnLLMStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, req llmsdk.Request) error {
	name := agentName(agent)
	h.run.update(func(i *runInfo) {
		if name != "" {
			i.AgentName = name
		}
		i.Operation = "llm"
		i.Model = req.Model
	})
	h.client.LeaveBreadcrumb(ctx, "LLM request", llmRequestMetadata(req), crashline.BreadcrumbRequest)

	if h.inner != nil {
		return h.delegate("llm_start", h.inner.OnLLMStart(ctx, runCtx, agent, req))
	}
	return nil
}

// OnLLMEnd leaves a request breadcrumb with response metadata.
func (h *HookAdapter) OnLLMEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, resp llmsdk.Response) error {
	h.client.LeaveBreadcrumb(ctx, "LLM response", llmResponseMetadata(resp), crashline.BreadcrumbRequest)

	if h.inner != nil {
		return h.delegate("llm_end", h.inner.OnLLMEnd(ctx, runCtx, agent, resp))
	}
	return nil
}

func (h *HookAdapter) delegate(hook string, err error) error {
	if err != nil {
		h.logger.Debug("inner hook returned an error", zap.String("hook", hook), zap.Error(err))
	}
	return err
}

func agentName(agent *agents.Agent) string {
	if agent == nil {
		return ""
	}
	return agent.Name()
}

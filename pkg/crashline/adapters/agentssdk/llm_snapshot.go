// llm_snapshot.go builds breadcrumb metadata for LLM calls. Message text,
// tool schemas and tool arguments are never recorded.

package agentssdk

import (
	"github.com/samber/lo"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
)

// maxMessageSummaries bounds how many trailing messages are summarized.
const maxMessageSummaries = 10

func llmRequestMetadata(req llmsdk.Request) map[string]any {
	meta := map[string]any{
		"model":        req.Model,
		"provider":     string(req.Provider),
		"messageCount": len(req.Messages),
		"toolCount":    len(req.Tools),
	}
	if len(req.Tools) > 0 {
		names := make([]string, len(req.Tools))
		for i, tool := range req.Tools {
			names[i] = tool.Name
		}
		meta["toolNames"] = names
	}
	if req.Temperature != nil {
		meta["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		meta["topP"] = *req.TopP
	}
	if req.MaxTokens != nil {
		meta["maxTokens"] = *req.MaxTokens
	}

	messages := req.Messages
	if len(messages) > maxMessageSummaries {
		messages = messages[len(messages)-maxMessageSummaries:]
	}
	if len(messages) > 0 {
		meta["messages"] = lo.Map(messages, func(m llmsdk.Message, _ int) map[string]any {
			return messageSummary(m)
		})
	}
	return meta
}

// messageSummary describes a message's shape without its content.
func messageSummary(msg llmsdk.Message) map[string]any {
	summary := map[string]any{
		"role":  string(msg.Role),
		"parts": len(msg.Parts),
	}

	contentLength := 0
	for _, part := range msg.Parts {
		contentLength += len(part.Text)
		if part.ImageData != nil {
			summary["hasImage"] = true
		}
		if part.ToolCall != nil {
			summary["hasToolCall"] = true
		}
		if part.ToolResult != nil {
			summary["hasToolResult"] = true
		}
	}
	summary["contentLength"] = contentLength
	return summary
}

func llmResponseMetadata(resp llmsdk.Response) map[string]any {
	meta := map[string]any{
		"model":            resp.Model,
		"finishReason":     string(resp.FinishReason),
		"promptTokens":     resp.Usage.PromptTokens,
		"completionTokens": resp.Usage.CompletionTokens,
		"totalTokens":      resp.Usage.TotalTokens,
	}
	if resp.ID != "" {
		meta["responseId"] = resp.ID
	}
	if len(resp.ToolCalls) > 0 {
		meta["toolCallCount"] = len(resp.ToolCalls)
		meta["toolCallNames"] = lo.Map(resp.ToolCalls, func(tc llmsdk.ToolCall, _ int) string {
			return tc.Name
		})
	}
	return meta
}

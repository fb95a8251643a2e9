// instrument.go provides the Instrument function for convenient runner setup.

package agentssdk

import (
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	"go.uber.org/zap"

	"github.com/strongdm/crashline/pkg/crashline"
)

// Framework is reported in the severity reason of run errors.
const Framework = "ai-agents-sdk"

// WrapOption configures a WrappedRunner.
type WrapOption func(*WrappedRunner)

// WithLogger sets the logger for the wrapper. Defaults to the client's
// configured logger.
func WithLogger(logger *zap.Logger) WrapOption {
	return func(w *WrappedRunner) {
		w.logger = logger
	}
}

// Instrument wraps a Runner with error and panic capture.
//
// Example:
//
//	client := crashline.New()
//	client.Configure(map[string]any{"api_key": key})
//	wrapped := agentssdk.Instrument(agents.NewRunner(llm), client)
//	result, err := wrapped.Run(ctx, agent, input, session, nil)
func Instrument(baseRunner *agents.Runner, client *crashline.Client, opts ...WrapOption) *WrappedRunner {
	wrapper := &WrappedRunner{
		inner:  baseRunner,
		client: client,
	}

	for _, opt := range opts {
		opt(wrapper)
	}
	if wrapper.logger == nil {
		wrapper.logger = client.Config().Logger
	}
	if wrapper.logger == nil {
		wrapper.logger = zap.NewNop()
	}

	return wrapper
}

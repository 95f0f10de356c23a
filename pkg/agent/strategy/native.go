package strategy

import (
	"context"
	"fmt"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/config"
)

// Native is the function-calling strategy: tools are presented through the
// provider's native tool interface and the model's tool-call payload is the
// selection. A plain text reply is a textual final answer.
type Native struct {
	client agent.LLMClient
	llmCfg *config.LLMProviderConfig
}

// NewNative creates the native function-calling strategy.
func NewNative(client agent.LLMClient, llmCfg *config.LLMProviderConfig) *Native {
	return &Native{client: client, llmCfg: llmCfg}
}

func (n *Native) Name() string { return string(config.IterationStrategyNative) }

// NextStep performs one call with native tools. Text deltas stream straight
// through to the sink.
func (n *Native) NextStep(ctx context.Context, input *agent.StepInput) (*agent.StepOutput, error) {
	ch, err := n.client.Generate(ctx, &agent.GenerateInput{
		Messages: input.Messages,
		Config:   n.llmCfg,
		Tools:    input.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("native call: %w", err)
	}

	col, err := collectStream(ctx, ch, input.OnDelta)
	if err != nil {
		return nil, err
	}

	out := &agent.StepOutput{Text: col.text, Usage: col.usage}
	if len(col.toolCalls) > 0 {
		// Parallel tool calls are not supported; the first one wins.
		out.ToolCall = &col.toolCalls[0]
	}
	return out, nil
}

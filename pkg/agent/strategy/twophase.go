package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/config"
)

const twoPhaseReasoningInstruction = `Reflect on the research task and the conversation so far.
Respond with a single JSON object matching the requested schema. Do not pick a
tool yet; that happens in a separate step.`

const twoPhaseSelectionInstruction = `Based on your reasoning above, invoke exactly one tool now.`

// TwoPhase splits each iteration into a reasoning-only structured call and a
// forced tool-selection call.
type TwoPhase struct {
	client agent.LLMClient
	llmCfg *config.LLMProviderConfig
}

// NewTwoPhase creates the two-phase strategy.
func NewTwoPhase(client agent.LLMClient, llmCfg *config.LLMProviderConfig) *TwoPhase {
	return &TwoPhase{client: client, llmCfg: llmCfg}
}

func (t *TwoPhase) Name() string { return string(config.IterationStrategyTwoPhase) }

// NextStep runs the reasoning call, then the selection call with
// ForceToolCall set. Usage is the sum of both calls.
func (t *TwoPhase) NextStep(ctx context.Context, input *agent.StepInput) (*agent.StepOutput, error) {
	reasoning, reasoningText, usage, err := t.reason(ctx, input)
	if err != nil {
		return nil, err
	}

	if input.OnDelta != nil && reasoning.CurrentSituation != "" {
		input.OnDelta(reasoning.CurrentSituation + "\n")
	}

	call, selectionUsage, err := t.selectTool(ctx, input, reasoningText)
	if err != nil {
		return nil, err
	}
	usage.Add(selectionUsage)

	return &agent.StepOutput{
		Reasoning: reasoning.toAgent(),
		Text:      reasoning.CurrentSituation,
		ToolCall:  call,
		Usage:     &usage,
	}, nil
}

func (t *TwoPhase) reason(ctx context.Context, input *agent.StepInput) (*reasoningPayload, string, agent.TokenUsage, error) {
	var usage agent.TokenUsage

	messages := make([]agent.ConversationMessage, 0, len(input.Messages)+1)
	messages = append(messages, input.Messages...)
	messages = append(messages, agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: twoPhaseReasoningInstruction,
	})

	ch, err := t.client.Generate(ctx, &agent.GenerateInput{
		Messages: messages,
		Config:   t.llmCfg,
		ResponseSchema: &agent.ResponseSchema{
			Name:   "reasoning_step",
			Schema: reasoningSchema(),
		},
	})
	if err != nil {
		return nil, "", usage, fmt.Errorf("reasoning call: %w", err)
	}

	col, err := collectStream(ctx, ch, nil)
	if err != nil {
		return nil, "", usage, err
	}
	if col.usage != nil {
		usage = *col.usage
	}

	var payload reasoningPayload
	if err := json.Unmarshal([]byte(col.text), &payload); err != nil {
		return nil, "", usage, fmt.Errorf("parsing reasoning response: %w", err)
	}
	return &payload, col.text, usage, nil
}

func (t *TwoPhase) selectTool(ctx context.Context, input *agent.StepInput, reasoningText string) (*agent.ToolCall, *agent.TokenUsage, error) {
	messages := make([]agent.ConversationMessage, 0, len(input.Messages)+2)
	messages = append(messages, input.Messages...)
	messages = append(messages, agent.ConversationMessage{
		Role:    agent.RoleAssistant,
		Content: reasoningText,
	})
	messages = append(messages, agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: twoPhaseSelectionInstruction,
	})

	ch, err := t.client.Generate(ctx, &agent.GenerateInput{
		Messages:      messages,
		Config:        t.llmCfg,
		Tools:         input.Tools,
		ForceToolCall: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("selection call: %w", err)
	}

	col, err := collectStream(ctx, ch, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(col.toolCalls) == 0 {
		return nil, col.usage, fmt.Errorf("selection call returned no tool invocation")
	}
	return &col.toolCalls[0], col.usage, nil
}

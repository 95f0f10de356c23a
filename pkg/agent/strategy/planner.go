package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/config"
)

const plannerInstruction = `Analyze the conversation and decide the next action.

Available tools:
%s

Respond with a single JSON object matching the requested schema: your reasoning
fields plus exactly one tool invocation under "tool". Pick "final_answer" once
you have enough material to answer.`

// Planner is the single-call structured-output strategy: one LLM call per
// iteration returns the reasoning record and the tool invocation together.
type Planner struct {
	client agent.LLMClient
	llmCfg *config.LLMProviderConfig
}

// NewPlanner creates the planner strategy.
func NewPlanner(client agent.LLMClient, llmCfg *config.LLMProviderConfig) *Planner {
	return &Planner{client: client, llmCfg: llmCfg}
}

func (p *Planner) Name() string { return string(config.IterationStrategyPlanner) }

// NextStep performs one structured-output call and parses the reasoning plus
// the embedded tool invocation. Malformed output is returned as an error so
// the engine can retry with guidance.
func (p *Planner) NextStep(ctx context.Context, input *agent.StepInput) (*agent.StepOutput, error) {
	messages := make([]agent.ConversationMessage, 0, len(input.Messages)+1)
	messages = append(messages, input.Messages...)
	messages = append(messages, agent.ConversationMessage{
		Role:    agent.RoleUser,
		Content: fmt.Sprintf(plannerInstruction, renderToolCatalog(input.Tools)),
	})

	ch, err := p.client.Generate(ctx, &agent.GenerateInput{
		Messages: messages,
		Config:   p.llmCfg,
		ResponseSchema: &agent.ResponseSchema{
			Name:   "agent_step",
			Schema: plannerSchema(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planner call: %w", err)
	}

	// The raw stream is schema JSON; the readable delta is emitted after
	// parsing instead.
	col, err := collectStream(ctx, ch, nil)
	if err != nil {
		return nil, err
	}

	var resp plannerResponse
	if err := json.Unmarshal([]byte(col.text), &resp); err != nil {
		return nil, fmt.Errorf("parsing planner response: %w", err)
	}
	if resp.Tool.Name == "" {
		return nil, fmt.Errorf("planner response names no tool")
	}

	if input.OnDelta != nil && resp.Reasoning.CurrentSituation != "" {
		input.OnDelta(resp.Reasoning.CurrentSituation + "\n")
	}

	args, err := json.Marshal(resp.Tool.Arguments)
	if err != nil {
		return nil, fmt.Errorf("encoding tool arguments: %w", err)
	}

	return &agent.StepOutput{
		Reasoning: resp.Reasoning.toAgent(),
		Text:      resp.Reasoning.CurrentSituation,
		ToolCall: &agent.ToolCall{
			ID:        uuid.NewString(),
			Name:      resp.Tool.Name,
			Arguments: args,
		},
		Usage: col.usage,
	}, nil
}

func (r *reasoningPayload) toAgent() *agent.Reasoning {
	return &agent.Reasoning{
		Steps:            r.ReasoningSteps,
		CurrentSituation: r.CurrentSituation,
		PlanStatus:       r.PlanStatus,
		EnoughData:       r.EnoughData,
		RemainingSteps:   r.RemainingSteps,
		TaskCompleted:    r.TaskCompleted,
	}
}

// renderToolCatalog formats tool definitions for strategies that describe
// tools in the prompt rather than via native function calling.
func renderToolCatalog(tools []agent.ToolDefinition) string {
	var b strings.Builder
	for i, def := range tools {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		if def.Parameters != nil {
			params, err := json.Marshal(def.Parameters)
			if err == nil {
				fmt.Fprintf(&b, "  parameters: %s\n", params)
			}
		}
	}
	return b.String()
}

package agent

import "context"

// Canonical names of the gated and system tools. The engine's budget rules
// key off these; the tools package registers its builtins under them.
const (
	ToolFinalAnswer   = "final_answer"
	ToolClarification = "clarification"
	ToolWebSearch     = "web_search"
	ToolCreateReport  = "create_report"
)

// Strategy performs the reasoning (and, depending on the variant, the tool
// selection) phase of one iteration. Implemented by the strategy package;
// defined here as an interface to avoid an agent↔strategy import cycle.
//
// Three variants exist: planner (one structured-output call carrying
// reasoning plus an embedded tool invocation), native (the model's own
// function-call payload is the selection), and two-phase (a reasoning call
// followed by a forced tool-selection call).
type Strategy interface {
	Name() string

	// NextStep runs Phase R for one iteration. A nil StepOutput.ToolCall
	// means the model answered with plain text; the engine synthesizes a
	// final_answer invocation from it.
	NextStep(ctx context.Context, input *StepInput) (*StepOutput, error)
}

// StepInput is the conversation state handed to a strategy.
type StepInput struct {
	Messages []ConversationMessage
	Tools    []ToolDefinition

	// OnDelta, when non-nil, receives streamed text deltas as they
	// arrive from the LLM.
	OnDelta func(delta string)
}

// StepOutput is the structured result of Phase R.
type StepOutput struct {
	// Reasoning is the structured record (nil for strategies that do not
	// produce one, e.g. native with a bare tool call).
	Reasoning *Reasoning

	// Text is the assistant's prose for the transcript; for a textual
	// payload it doubles as the final answer.
	Text string

	// ToolCall is the chosen invocation (nil ⇒ textual payload).
	ToolCall *ToolCall

	Usage *TokenUsage
}

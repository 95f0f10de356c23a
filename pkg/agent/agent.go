// Package agent provides the research agent loop: a bounded
// reasoning→select→act state machine over an LLM and a tool set, with
// streaming output and clarification suspension.
package agent

import (
	"context"
	"encoding/json"
)

// State is the agent's lifecycle state.
type State string

// Agent states. RESEARCHING is the working state; WAITING_FOR_CLARIFICATION
// suspends the loop on the clarification latch; COMPLETED and FAILED are
// terminal.
const (
	StateResearching             State = "RESEARCHING"
	StateWaitingForClarification State = "WAITING_FOR_CLARIFICATION"
	StateCompleted               State = "COMPLETED"
	StateFailed                  State = "FAILED"
)

// IsTerminal reports whether the state ends the agent loop.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ConversationMessage is one transcript turn.
type ConversationMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool result messages
	ToolName   string     `json:"tool_name,omitempty"`    // tool result messages
}

// ToolCall is an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a tool as presented to the LLM.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// Tool is the engine's view of an invokable tool. Implemented by
// tools.Descriptor; defined here as an interface to avoid an agent↔tools
// import cycle.
type Tool interface {
	Definition() ToolDefinition
	// Terminal tools (final_answer, create_report) remain available when
	// the iteration budget is exhausted.
	Terminal() bool
	// Suspending marks the clarification tool: after execution the engine
	// parks on the latch until a clarification arrives.
	Suspending() bool
	Execute(ctx context.Context, actx *Context, args json.RawMessage) (string, error)
}

// Reasoning is the structured record produced by Phase R of an iteration.
type Reasoning struct {
	Steps            []string `json:"reasoning_steps"`
	CurrentSituation string   `json:"current_situation"`
	PlanStatus       string   `json:"plan_status"`
	EnoughData       bool     `json:"enough_data"`
	RemainingSteps   []string `json:"remaining_steps"`
	TaskCompleted    bool     `json:"task_completed"`
}

// Masker redacts credentials from tool results before they reach the
// transcript or the stream. Implemented by masking.Service.
type Masker interface {
	Mask(text string) string
}

// TokenUsage aggregates token consumption across LLM calls.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates usage from one call.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

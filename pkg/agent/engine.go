package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/models"
)

// ExecStatus is the terminal outcome of an engine run.
type ExecStatus string

// Engine run outcomes.
const (
	ExecStatusCompleted ExecStatus = "completed"
	ExecStatusFailed    ExecStatus = "failed"
	ExecStatusCancelled ExecStatus = "cancelled"
)

// RunResult is returned by Engine.Run.
type RunResult struct {
	Status      ExecStatus
	FinalAnswer string
	Err         *models.JobError
	TokensUsed  TokenUsage
}

// ProgressFunc receives per-iteration progress: iterations completed so
// far, budget counters, and a human-readable step description.
type ProgressFunc func(iterations, searchesUsed, sourcesFound int, step string)

// clarificationTemplate formats the user's clarification answer into the
// transcript turn appended by ProvideClarification.
const clarificationTemplate = "Clarification from user: %s\n\nContinue the research with this information."

// retryGuidance is appended to the conversation before the single Phase R
// retry after a malformed LLM response.
const retryGuidance = "Your previous response could not be processed: %s\n" +
	"Respond again, strictly following the requested format and choosing exactly one tool."

// EngineConfig carries the dependencies of one engine instance.
type EngineConfig struct {
	Context  *Context
	Sink     *Sink
	Strategy Strategy
	// Toolkit is the base tool set before dynamic gating.
	Toolkit []Tool
	Budgets config.ResolvedBudgets

	// SystemPrompt seeds the conversation; Query is the research task.
	SystemPrompt string
	Query        string

	// Masker redacts tool results before transcript and stream (nil
	// disables masking).
	Masker Masker

	// OnProgress is called after every completed iteration (nil to skip).
	OnProgress ProgressFunc
}

// Engine drives the reasoning→select→act loop for one agent. Sequential:
// one goroutine runs the loop; the only concurrent entry point is
// ProvideClarification.
type Engine struct {
	actx     *Context
	sink     *Sink
	strategy Strategy
	toolkit  []Tool
	budgets  config.ResolvedBudgets

	systemPrompt string
	query        string

	masker     Masker
	onProgress ProgressFunc

	usage TokenUsage
	log   *slog.Logger
}

// NewEngine creates an engine around a fresh context and sink.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		actx:         cfg.Context,
		sink:         cfg.Sink,
		strategy:     cfg.Strategy,
		toolkit:      cfg.Toolkit,
		budgets:      cfg.Budgets,
		systemPrompt: cfg.SystemPrompt,
		query:        cfg.Query,
		masker:       cfg.Masker,
		onProgress:   cfg.OnProgress,
		log:          slog.With("job_id", cfg.Context.JobID()),
	}
}

// Context returns the engine's agent context.
func (e *Engine) Context() *Context { return e.actx }

// Sink returns the engine's streaming sink.
func (e *Engine) Sink() *Sink { return e.sink }

// ProvideClarification delivers a user answer to a suspended engine. The
// answer is formatted through the clarification template; the context
// handles the latch release and state restore.
func (e *Engine) ProvideClarification(text string) error {
	turn := ConversationMessage{
		Role:    RoleUser,
		Content: fmt.Sprintf(clarificationTemplate, text),
	}
	return e.actx.ProvideClarification(turn)
}

// Run executes the agent loop until a terminal state, cancellation, or
// forced termination on budget exhaustion. It always finishes the sink
// before returning.
func (e *Engine) Run(ctx context.Context) (result *RunResult) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("Agent loop panicked", "panic", rec)
			e.actx.SetState(StateFailed)
			result = &RunResult{
				Status:     ExecStatusFailed,
				Err:        models.NewJobError(models.ErrorKindInternal, "agent loop panic: %v", rec),
				TokensUsed: e.usage,
			}
		}
		e.sink.Finish("")
	}()

	e.seedConversation()
	e.log.Info("Agent loop starting",
		"strategy", e.strategy.Name(),
		"max_iterations", e.budgets.MaxIterations,
		"max_searches", e.budgets.MaxSearches,
		"max_clarifications", e.budgets.MaxClarifications)

	for !e.actx.State().IsTerminal() {
		if err := ctx.Err(); err != nil {
			return e.cancelledResult()
		}

		iter := e.actx.Iteration()
		if iter > e.budgets.MaxIterations {
			// The terminal-only iteration did not produce a final
			// answer; synthesize one from the last reasoning.
			e.forceFinalAnswer(ctx, "iteration budget exhausted")
			break
		}

		allowed := e.allowedTools(iter)
		e.actx.BeginIteration()

		iterCtx, cancelIter := e.iterationContext(ctx)

		out, err := e.reason(iterCtx, allowed)
		if err != nil {
			cancelIter()
			if ctx.Err() != nil {
				return e.cancelledResult()
			}
			// Covers both malformed responses and cycles that overran the
			// iteration timeout.
			e.log.Warn("Iteration failed with LLM error", "iteration", iter+1, "error", err)
			e.reportProgress(fmt.Sprintf("Recovering from model error (iteration %d)", iter+1))
			continue
		}

		e.recordReasoning(out)

		call := e.selectTool(out)
		tool, ok := lookupTool(allowed, call.Name)
		if !ok {
			cancelIter()
			e.log.Warn("Model chose a tool outside the allowed set",
				"tool", call.Name, "iteration", iter+1)
			e.forceFinalAnswer(ctx, fmt.Sprintf("invalid tool %q selected", call.Name))
			break
		}

		execErr := e.act(iterCtx, tool, call)
		cancelIter()
		if err := ctx.Err(); err != nil {
			return e.cancelledResult()
		}

		// A failed suspending tool never parks the engine: there is no
		// recorded question to answer, so the error text flows to the next
		// turn instead.
		if execErr == nil && tool.Suspending() && !e.actx.State().IsTerminal() {
			// Waiting for the user is not bounded by the iteration timeout.
			if err := e.suspendForClarification(ctx); err != nil {
				return e.cancelledResult()
			}
		}

		e.reportProgress(e.currentStep())
	}

	return e.terminalResult()
}

// seedConversation writes the system prompt and the research task as the
// first two turns.
func (e *Engine) seedConversation() {
	if len(e.actx.Conversation()) > 0 {
		return
	}
	if e.systemPrompt != "" {
		e.actx.AppendTurn(ConversationMessage{Role: RoleSystem, Content: e.systemPrompt})
	}
	e.actx.AppendTurn(ConversationMessage{Role: RoleUser, Content: e.query})
}

// allowedTools applies the dynamic gating rules, in order: iteration budget
// restricts to terminal tools; clarification and search budgets remove
// their tools. The bounds are hard regardless of what the model asks for.
func (e *Engine) allowedTools(iteration int) []Tool {
	allowed := make([]Tool, 0, len(e.toolkit))
	terminalOnly := iteration >= e.budgets.MaxIterations
	clarificationsExhausted := e.actx.ClarificationsUsed() >= e.budgets.MaxClarifications
	searchesExhausted := e.actx.SearchesUsed() >= e.budgets.MaxSearches

	for _, t := range e.toolkit {
		name := t.Definition().Name
		if terminalOnly && !t.Terminal() {
			continue
		}
		if clarificationsExhausted && name == ToolClarification {
			continue
		}
		if searchesExhausted && name == ToolWebSearch {
			continue
		}
		allowed = append(allowed, t)
	}
	return allowed
}

// reason runs Phase R with a single retry-with-guidance on failure.
func (e *Engine) reason(ctx context.Context, allowed []Tool) (*StepOutput, error) {
	defs := make([]ToolDefinition, len(allowed))
	for i, t := range allowed {
		defs[i] = t.Definition()
	}

	input := &StepInput{
		Messages: e.actx.Conversation(),
		Tools:    defs,
		OnDelta:  func(delta string) { e.sink.Push([]byte(delta)) },
	}

	out, err := e.strategy.NextStep(ctx, input)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	e.log.Warn("Phase R failed, retrying with guidance", "error", err)
	e.actx.AppendTurn(ConversationMessage{
		Role:    RoleUser,
		Content: fmt.Sprintf(retryGuidance, err.Error()),
	})
	input.Messages = e.actx.Conversation()

	out, retryErr := e.strategy.NextStep(ctx, input)
	if retryErr != nil {
		return nil, fmt.Errorf("reasoning failed after retry: %w", retryErr)
	}
	return out, nil
}

// recordReasoning stores the reasoning record and appends the assistant
// turn to the transcript.
func (e *Engine) recordReasoning(out *StepOutput) {
	if out.Reasoning != nil {
		e.actx.SetReasoning(out.Reasoning)
	}
	if out.Usage != nil {
		e.usage.Add(out.Usage)
	}

	turn := ConversationMessage{Role: RoleAssistant, Content: out.Text}
	if out.ToolCall != nil {
		turn.ToolCalls = []ToolCall{*out.ToolCall}
	}
	e.actx.AppendTurn(turn)
}

// selectTool runs Phase S: extract the invocation, synthesizing a
// final_answer from a textual payload.
func (e *Engine) selectTool(out *StepOutput) *ToolCall {
	if out.ToolCall != nil {
		return out.ToolCall
	}
	args, _ := json.Marshal(map[string]string{
		"answer": out.Text,
		"status": "completed",
	})
	return &ToolCall{Name: ToolFinalAnswer, Arguments: args}
}

// act runs Phase A: execute the tool, mask the result, append the tool
// turn, stream the result. The execution error is returned so the caller
// can tell a failed invocation from a successful one; either way the
// result text lands on the transcript.
func (e *Engine) act(ctx context.Context, tool Tool, call *ToolCall) error {
	name := tool.Definition().Name
	started := time.Now()

	resultText, err := tool.Execute(ctx, e.actx, call.Arguments)
	if err != nil {
		// Tool errors surface as text to the next LLM turn; the model
		// may retry with a different tool or arguments.
		resultText = fmt.Sprintf("Tool %s failed: %v", name, err)
		e.log.Warn("Tool execution failed", "tool", name, "error", err)
	}
	if e.masker != nil {
		resultText = e.masker.Mask(resultText)
	}

	e.actx.AppendTurn(ConversationMessage{
		Role:       RoleTool,
		Content:    resultText,
		ToolCallID: call.ID,
		ToolName:   name,
	})
	e.sink.Push([]byte(resultText))

	e.log.Info("Tool executed",
		"tool", name,
		"duration", time.Since(started),
		"result_chars", len(resultText))
	return err
}

// iterationContext bounds one reasoning+action cycle in wall-clock time.
// A timed-out cycle feeds the same recovery path as an LLM error; the
// parent context still carries job cancellation.
func (e *Engine) iterationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.budgets.IterationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.budgets.IterationTimeout)
}

// suspendForClarification parks the engine on the clarification latch. The
// sink is finished for this segment and reopened when the agent resumes.
// The suspended cycle does not consume an extra iteration slot.
func (e *Engine) suspendForClarification(ctx context.Context) error {
	e.actx.ArmLatch()
	e.actx.SetState(StateWaitingForClarification)
	e.sink.Finish("")
	e.log.Info("Agent suspended, awaiting clarification",
		"question", e.actx.PendingQuestion())

	if err := e.actx.AwaitLatch(ctx); err != nil {
		return err
	}
	e.sink.Reopen()
	e.log.Info("Clarification received, resuming",
		"clarifications_used", e.actx.ClarificationsUsed())
	return nil
}

// forceFinalAnswer synthesizes a final_answer invocation from the last
// reasoning record. Used on budget exhaustion and invalid tool selection.
func (e *Engine) forceFinalAnswer(ctx context.Context, reason string) {
	e.log.Info("Forcing final answer", "reason", reason)

	answer := e.synthesizeAnswer()
	tool, ok := lookupTool(e.toolkit, ToolFinalAnswer)
	if !ok {
		// No terminal tool registered; set the state directly so the
		// loop still terminates.
		e.actx.SetExecutionResult(answer)
		e.actx.SetState(StateCompleted)
		return
	}

	args, _ := json.Marshal(map[string]string{
		"answer": answer,
		"status": "completed",
	})
	e.act(ctx, tool, &ToolCall{Name: ToolFinalAnswer, Arguments: args})
	if !e.actx.State().IsTerminal() {
		e.actx.SetState(StateCompleted)
	}
	e.reportProgress("Concluding")
}

// synthesizeAnswer builds a best-effort answer from the last reasoning
// record and the transcript.
func (e *Engine) synthesizeAnswer() string {
	if r := e.actx.Reasoning(); r != nil {
		var b strings.Builder
		if r.CurrentSituation != "" {
			b.WriteString(r.CurrentSituation)
		}
		if len(r.Steps) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("Findings so far:\n")
			for _, s := range r.Steps {
				b.WriteString("- ")
				b.WriteString(s)
				b.WriteString("\n")
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}

	// Fall back to the last assistant turn with content.
	conv := e.actx.Conversation()
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == RoleAssistant && conv[i].Content != "" {
			return conv[i].Content
		}
	}
	return "The research could not be completed within the allotted budget."
}

func (e *Engine) currentStep() string {
	if r := e.actx.Reasoning(); r != nil && r.CurrentSituation != "" {
		return r.CurrentSituation
	}
	return fmt.Sprintf("Iteration %d", e.actx.Iteration())
}

func (e *Engine) reportProgress(step string) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(e.actx.Iteration(), e.actx.SearchesUsed(), e.actx.SourceCount(), step)
}

func (e *Engine) cancelledResult() *RunResult {
	e.log.Info("Agent loop cancelled", "iteration", e.actx.Iteration())
	return &RunResult{
		Status:     ExecStatusCancelled,
		Err:        models.NewJobError(models.ErrorKindCancelled, "job cancelled"),
		TokensUsed: e.usage,
	}
}

func (e *Engine) terminalResult() *RunResult {
	switch e.actx.State() {
	case StateCompleted:
		return &RunResult{
			Status:      ExecStatusCompleted,
			FinalAnswer: e.actx.ExecutionResult(),
			TokensUsed:  e.usage,
		}
	case StateFailed:
		msg := e.actx.ExecutionResult()
		if msg == "" {
			msg = "agent reported failure"
		}
		return &RunResult{
			Status:     ExecStatusFailed,
			Err:        models.NewJobError(models.ErrorKindLLM, "%s", msg),
			TokensUsed: e.usage,
		}
	default:
		// Loop exited without a terminal state; treat as failure.
		return &RunResult{
			Status:     ExecStatusFailed,
			Err:        models.NewJobError(models.ErrorKindInternal, "agent loop exited in state %s", e.actx.State()),
			TokensUsed: e.usage,
		}
	}
}

// lookupTool finds a tool by name in a tool set.
func lookupTool(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Definition().Name == name {
			return t, true
		}
	}
	return nil, false
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/models"
)

// scriptedStrategy replays one scripted step per NextStep call.
type scriptedStrategy struct {
	steps []func(input *StepInput) (*StepOutput, error)
	calls int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) NextStep(_ context.Context, input *StepInput) (*StepOutput, error) {
	if s.calls >= len(s.steps) {
		return nil, fmt.Errorf("unexpected NextStep call %d", s.calls+1)
	}
	step := s.steps[s.calls]
	s.calls++
	return step(input)
}

type fakeTool struct {
	name       string
	terminal   bool
	suspending bool
	execute    func(ctx context.Context, actx *Context, args json.RawMessage) (string, error)
}

func (t *fakeTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: t.name, Parameters: map[string]any{"type": "object"}}
}
func (t *fakeTool) Terminal() bool   { return t.terminal }
func (t *fakeTool) Suspending() bool { return t.suspending }
func (t *fakeTool) Execute(ctx context.Context, actx *Context, args json.RawMessage) (string, error) {
	return t.execute(ctx, actx, args)
}

func newFinalAnswerTool() *fakeTool {
	return &fakeTool{
		name:     ToolFinalAnswer,
		terminal: true,
		execute: func(_ context.Context, actx *Context, args json.RawMessage) (string, error) {
			var payload struct {
				Answer string `json:"answer"`
				Status string `json:"status"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return "", err
			}
			actx.SetExecutionResult(payload.Answer)
			if payload.Status == "failed" {
				actx.SetState(StateFailed)
			} else {
				actx.SetState(StateCompleted)
			}
			return payload.Answer, nil
		},
	}
}

func newSearchTool(result string, err error) *fakeTool {
	return &fakeTool{
		name: ToolWebSearch,
		execute: func(_ context.Context, actx *Context, _ json.RawMessage) (string, error) {
			if err != nil {
				return "", err
			}
			actx.RecordSearch(models.SearchResult{Query: "q"})
			return result, nil
		},
	}
}

func newClarificationTool(question string) *fakeTool {
	return &fakeTool{
		name:       ToolClarification,
		suspending: true,
		execute: func(_ context.Context, actx *Context, _ json.RawMessage) (string, error) {
			actx.SetPendingQuestion(question)
			return "Asked user: " + question, nil
		},
	}
}

func toolCall(name string, args map[string]string) *ToolCall {
	raw, _ := json.Marshal(args)
	return &ToolCall{ID: "call-1", Name: name, Arguments: raw}
}

func defaultBudgets() config.ResolvedBudgets {
	return config.ResolvedBudgets{MaxIterations: 10, MaxSearches: 4, MaxClarifications: 3}
}

func newTestEngine(strat Strategy, toolkit []Tool, budgets config.ResolvedBudgets) *Engine {
	return NewEngine(EngineConfig{
		Context:      NewContext("job-test", ""),
		Sink:         NewSink(),
		Strategy:     strat,
		Toolkit:      toolkit,
		Budgets:      budgets,
		SystemPrompt: "You are a research agent.",
		Query:        "what is the answer?",
	})
}

func TestEngineCompletesWithToolCalls(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{
				Reasoning: &Reasoning{CurrentSituation: "searching"},
				Text:      "I will search first.",
				ToolCall:  toolCall(ToolWebSearch, nil),
				Usage:     &TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			}, nil
		},
		func(input *StepInput) (*StepOutput, error) {
			// The previous tool result must be on the transcript.
			last := input.Messages[len(input.Messages)-1]
			if last.Role != RoleTool || last.Content != "search results" {
				return nil, fmt.Errorf("missing tool turn, got %+v", last)
			}
			return &StepOutput{
				ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "42", "status": "completed"}),
				Usage:    &TokenUsage{InputTokens: 20, OutputTokens: 5, TotalTokens: 25},
			}, nil
		},
	}}

	eng := newTestEngine(strat, []Tool{newSearchTool("search results", nil), newFinalAnswerTool()}, defaultBudgets())
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusCompleted, result.Status)
	assert.Equal(t, "42", result.FinalAnswer)
	assert.Nil(t, result.Err)
	assert.Equal(t, 40, result.TokensUsed.TotalTokens)
	assert.Equal(t, 2, eng.Context().Iteration())
	assert.Equal(t, 1, eng.Context().SearchesUsed())
	assert.True(t, eng.Sink().Finished())

	chunks, err := eng.Sink().NewReader().Collect(context.Background())
	require.NoError(t, err)
	assert.Contains(t, chunks, []byte("search results"))
	assert.Contains(t, chunks, []byte("42"))
}

func TestEngineSynthesizesFinalAnswerFromText(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{Text: "the plain answer"}, nil
		},
	}}

	eng := newTestEngine(strat, []Tool{newFinalAnswerTool()}, defaultBudgets())
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusCompleted, result.Status)
	assert.Equal(t, "the plain answer", result.FinalAnswer)
	assert.Equal(t, 1, eng.Context().Iteration())
}

func TestEngineRetriesPhaseRWithGuidance(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return nil, errors.New("malformed response")
		},
		func(input *StepInput) (*StepOutput, error) {
			last := input.Messages[len(input.Messages)-1]
			if last.Role != RoleUser || !strings.Contains(last.Content, "malformed response") {
				return nil, fmt.Errorf("retry guidance missing, got %+v", last)
			}
			return &StepOutput{
				ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "recovered", "status": "completed"}),
			}, nil
		},
	}}

	eng := newTestEngine(strat, []Tool{newFinalAnswerTool()}, defaultBudgets())
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusCompleted, result.Status)
	assert.Equal(t, "recovered", result.FinalAnswer)
	assert.Equal(t, 2, strat.calls)
}

func TestEngineGatesToTerminalToolsOnIterationBudget(t *testing.T) {
	// The strategy keeps searching while web_search is offered. On the
	// terminal-only iteration it answers with text instead.
	pickNext := func(input *StepInput) (*StepOutput, error) {
		for _, def := range input.Tools {
			if def.Name == ToolWebSearch {
				return &StepOutput{ToolCall: toolCall(ToolWebSearch, nil)}, nil
			}
		}
		return &StepOutput{Text: "best effort answer"}, nil
	}
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){pickNext, pickNext, pickNext}}

	budgets := config.ResolvedBudgets{MaxIterations: 2, MaxSearches: 10, MaxClarifications: 3}
	eng := newTestEngine(strat, []Tool{newSearchTool("results", nil), newFinalAnswerTool()}, budgets)
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusCompleted, result.Status)
	assert.Equal(t, "best effort answer", result.FinalAnswer)
	assert.Equal(t, 3, strat.calls)
	// Never more than max_iterations + 1.
	assert.Equal(t, budgets.MaxIterations+1, eng.Context().Iteration())
}

func TestEngineForcedConclusionOnBudgetOverrun(t *testing.T) {
	// The strategy insists on web_search even on the terminal-only
	// iteration, so the engine has to synthesize the conclusion itself.
	pickSearch := func(_ *StepInput) (*StepOutput, error) {
		return &StepOutput{
			Reasoning: &Reasoning{CurrentSituation: "collected partial findings"},
			ToolCall:  toolCall(ToolWebSearch, nil),
		}, nil
	}
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){pickSearch, pickSearch, pickSearch}}

	budgets := config.ResolvedBudgets{MaxIterations: 2, MaxSearches: 10, MaxClarifications: 3}
	eng := newTestEngine(strat, []Tool{newSearchTool("results", nil), newFinalAnswerTool()}, budgets)
	result := eng.Run(context.Background())

	// Iteration 3 selects web_search while only terminal tools are
	// allowed; the engine forces a synthesized final answer.
	require.Equal(t, ExecStatusCompleted, result.Status)
	assert.Contains(t, result.FinalAnswer, "collected partial findings")
	assert.LessOrEqual(t, eng.Context().Iteration(), budgets.MaxIterations+1)
}

func TestEngineClarificationRoundTrip(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{ToolCall: toolCall(ToolClarification, map[string]string{"question": "which one?"})}, nil
		},
		func(input *StepInput) (*StepOutput, error) {
			last := input.Messages[len(input.Messages)-1]
			if last.Role != RoleUser || !strings.Contains(last.Content, "the second one") {
				return nil, fmt.Errorf("clarification turn missing, got %+v", last)
			}
			return &StepOutput{
				ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "done", "status": "completed"}),
			}, nil
		},
	}}

	eng := newTestEngine(strat, []Tool{newClarificationTool("which one?"), newFinalAnswerTool()}, defaultBudgets())

	done := make(chan *RunResult, 1)
	go func() { done <- eng.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return eng.Context().State() == StateWaitingForClarification
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, eng.Sink().Finished())
	assert.Equal(t, "which one?", eng.Context().PendingQuestion())

	require.NoError(t, eng.ProvideClarification("the second one"))

	select {
	case result := <-done:
		require.Equal(t, ExecStatusCompleted, result.Status)
		assert.Equal(t, "done", result.FinalAnswer)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not resume after clarification")
	}

	assert.Equal(t, 1, eng.Context().ClarificationsUsed())
	// The suspension cycle counts as one iteration, not two.
	assert.Equal(t, 2, eng.Context().Iteration())
}

func TestEngineRemovesExhaustedTools(t *testing.T) {
	var sawClarification, sawSearch bool
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(input *StepInput) (*StepOutput, error) {
			for _, def := range input.Tools {
				switch def.Name {
				case ToolClarification:
					sawClarification = true
				case ToolWebSearch:
					sawSearch = true
				}
			}
			return &StepOutput{ToolCall: toolCall(ToolWebSearch, nil)}, nil
		},
		func(input *StepInput) (*StepOutput, error) {
			for _, def := range input.Tools {
				if def.Name == ToolWebSearch {
					return nil, errors.New("web_search should be gated out")
				}
			}
			return &StepOutput{
				ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "x", "status": "completed"}),
			}, nil
		},
	}}

	budgets := config.ResolvedBudgets{MaxIterations: 10, MaxSearches: 1, MaxClarifications: 0}
	toolkit := []Tool{newSearchTool("results", nil), newClarificationTool("q"), newFinalAnswerTool()}
	eng := newTestEngine(strat, toolkit, budgets)
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusCompleted, result.Status)
	assert.False(t, sawClarification, "clarification offered despite zero budget")
	assert.True(t, sawSearch, "web_search should be offered before the budget is spent")
}

func TestEngineInvalidToolForcesConclusion(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{
				Reasoning: &Reasoning{CurrentSituation: "about to go off script"},
				ToolCall:  toolCall("delete_everything", nil),
			}, nil
		},
	}}

	eng := newTestEngine(strat, []Tool{newFinalAnswerTool()}, defaultBudgets())
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusCompleted, result.Status)
	assert.Contains(t, result.FinalAnswer, "about to go off script")
}

func TestEngineToolErrorSurfacesAsText(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{ToolCall: toolCall(ToolWebSearch, nil)}, nil
		},
		func(input *StepInput) (*StepOutput, error) {
			last := input.Messages[len(input.Messages)-1]
			if last.Role != RoleTool || !strings.Contains(last.Content, "Tool web_search failed") {
				return nil, fmt.Errorf("tool error not surfaced, got %+v", last)
			}
			return &StepOutput{
				ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "handled", "status": "completed"}),
			}, nil
		},
	}}

	eng := newTestEngine(strat, []Tool{newSearchTool("", errors.New("upstream 503")), newFinalAnswerTool()}, defaultBudgets())
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusCompleted, result.Status)
	assert.Equal(t, "handled", result.FinalAnswer)
}

// stallThenAnswerStrategy blocks its first call until the step context
// expires, then concludes on the second.
type stallThenAnswerStrategy struct {
	calls int
}

func (s *stallThenAnswerStrategy) Name() string { return "stalling" }

func (s *stallThenAnswerStrategy) NextStep(ctx context.Context, _ *StepInput) (*StepOutput, error) {
	s.calls++
	if s.calls == 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &StepOutput{
		ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "eventually", "status": "completed"}),
	}, nil
}

func TestEngineIterationTimeoutFeedsRecovery(t *testing.T) {
	strat := &stallThenAnswerStrategy{}
	budgets := defaultBudgets()
	budgets.IterationTimeout = 20 * time.Millisecond

	eng := newTestEngine(strat, []Tool{newFinalAnswerTool()}, budgets)

	done := make(chan *RunResult, 1)
	go func() { done <- eng.Run(context.Background()) }()

	select {
	case result := <-done:
		require.Equal(t, ExecStatusCompleted, result.Status)
		assert.Equal(t, "eventually", result.FinalAnswer)
	case <-time.After(5 * time.Second):
		t.Fatal("engine hung on a stalled iteration")
	}
	assert.Equal(t, 2, strat.calls)
}

func TestEngineSuspensionOutlivesIterationTimeout(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{ToolCall: toolCall(ToolClarification, map[string]string{"question": "which?"})}, nil
		},
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{
				ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "done", "status": "completed"}),
			}, nil
		},
	}}

	budgets := defaultBudgets()
	budgets.IterationTimeout = 20 * time.Millisecond

	eng := newTestEngine(strat, []Tool{newClarificationTool("which?"), newFinalAnswerTool()}, budgets)

	done := make(chan *RunResult, 1)
	go func() { done <- eng.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return eng.Context().State() == StateWaitingForClarification
	}, 2*time.Second, 5*time.Millisecond)

	// Stay suspended well past the per-cycle bound before answering.
	time.Sleep(3 * budgets.IterationTimeout)
	require.Equal(t, StateWaitingForClarification, eng.Context().State())

	require.NoError(t, eng.ProvideClarification("the first"))

	select {
	case result := <-done:
		require.Equal(t, ExecStatusCompleted, result.Status)
		assert.Equal(t, "done", result.FinalAnswer)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not resume after clarification")
	}
}

func TestEngineDoesNotSuspendOnFailedClarification(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{ToolCall: toolCall(ToolClarification, nil)}, nil
		},
		func(input *StepInput) (*StepOutput, error) {
			last := input.Messages[len(input.Messages)-1]
			if last.Role != RoleTool || !strings.Contains(last.Content, "failed") {
				return nil, fmt.Errorf("tool error not surfaced, got %+v", last)
			}
			return &StepOutput{
				ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "went on", "status": "completed"}),
			}, nil
		},
	}}

	broken := &fakeTool{
		name:       ToolClarification,
		suspending: true,
		execute: func(_ context.Context, _ *Context, _ json.RawMessage) (string, error) {
			return "", errors.New("question must not be empty")
		},
	}

	eng := newTestEngine(strat, []Tool{broken, newFinalAnswerTool()}, defaultBudgets())

	done := make(chan *RunResult, 1)
	go func() { done <- eng.Run(context.Background()) }()

	select {
	case result := <-done:
		require.Equal(t, ExecStatusCompleted, result.Status)
		assert.Equal(t, "went on", result.FinalAnswer)
	case <-time.After(2 * time.Second):
		t.Fatal("engine parked on a clarification that was never asked")
	}
	assert.Empty(t, eng.Context().PendingQuestion())
}

type maskFunc func(string) string

func (f maskFunc) Mask(text string) string { return f(text) }

func TestEngineMasksToolResults(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			return &StepOutput{ToolCall: toolCall(ToolWebSearch, nil)}, nil
		},
		func(input *StepInput) (*StepOutput, error) {
			last := input.Messages[len(input.Messages)-1]
			if strings.Contains(last.Content, "hunter2") {
				return nil, errors.New("secret leaked into transcript")
			}
			return &StepOutput{
				ToolCall: toolCall(ToolFinalAnswer, map[string]string{"answer": "ok", "status": "completed"}),
			}, nil
		},
	}}

	eng := NewEngine(EngineConfig{
		Context:  NewContext("job-test", ""),
		Sink:     NewSink(),
		Strategy: strat,
		Toolkit:  []Tool{newSearchTool("password=hunter2", nil), newFinalAnswerTool()},
		Budgets:  defaultBudgets(),
		Query:    "q",
		Masker: maskFunc(func(text string) string {
			return strings.ReplaceAll(text, "hunter2", "***MASKED***")
		}),
	})
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusCompleted, result.Status)
	chunks, err := eng.Sink().NewReader().Collect(context.Background())
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotContains(t, string(c), "hunter2")
	}
}

func TestEngineCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			cancel()
			return nil, ctx.Err()
		},
	}}

	eng := newTestEngine(strat, []Tool{newFinalAnswerTool()}, defaultBudgets())
	result := eng.Run(ctx)

	require.Equal(t, ExecStatusCancelled, result.Status)
	require.NotNil(t, result.Err)
	assert.Equal(t, models.ErrorKindCancelled, result.Err.Kind)
	assert.True(t, eng.Sink().Finished())
}

func TestEngineCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	strat := &scriptedStrategy{}
	eng := newTestEngine(strat, []Tool{newFinalAnswerTool()}, defaultBudgets())
	result := eng.Run(ctx)

	require.Equal(t, ExecStatusCancelled, result.Status)
	assert.Zero(t, strat.calls)
}

func TestEngineRecoversFromPanic(t *testing.T) {
	strat := &scriptedStrategy{steps: []func(*StepInput) (*StepOutput, error){
		func(_ *StepInput) (*StepOutput, error) {
			panic("strategy bug")
		},
	}}

	eng := newTestEngine(strat, []Tool{newFinalAnswerTool()}, defaultBudgets())
	result := eng.Run(context.Background())

	require.Equal(t, ExecStatusFailed, result.Status)
	require.NotNil(t, result.Err)
	assert.Equal(t, models.ErrorKindInternal, result.Err.Kind)
	assert.True(t, eng.Sink().Finished())
}

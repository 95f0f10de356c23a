package e2e

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sondelab/sonde/pkg/agent"
)

// Script is the chunk sequence one Generate call replays.
type Script struct {
	// Gate, when set, blocks emission until the channel is closed. Used to
	// hold a job in RUNNING state.
	Gate <-chan struct{}

	Chunks []agent.Chunk

	// Err makes the call fail at connect time.
	Err error
}

// ScriptedLLMClient replays one script per Generate call, in order. When the
// scripts run out the last one repeats, so retry loops stay deterministic.
type ScriptedLLMClient struct {
	mu      sync.Mutex
	scripts []Script
	calls   int
}

// NewScriptedLLMClient creates a client with an initial script sequence.
func NewScriptedLLMClient(scripts ...Script) *ScriptedLLMClient {
	return &ScriptedLLMClient{scripts: scripts}
}

// Append adds scripts to the end of the sequence.
func (c *ScriptedLLMClient) Append(scripts ...Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append(c.scripts, scripts...)
}

// Calls returns how many Generate calls were made.
func (c *ScriptedLLMClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Generate implements agent.LLMClient.
func (c *ScriptedLLMClient) Generate(ctx context.Context, _ *agent.GenerateInput) (<-chan agent.Chunk, error) {
	c.mu.Lock()
	if len(c.scripts) == 0 {
		c.mu.Unlock()
		return nil, context.Canceled
	}
	idx := c.calls
	if idx >= len(c.scripts) {
		idx = len(c.scripts) - 1
	}
	script := c.scripts[idx]
	c.calls++
	c.mu.Unlock()

	if script.Err != nil {
		return nil, script.Err
	}

	ch := make(chan agent.Chunk, len(script.Chunks))
	go func() {
		defer close(ch)
		if script.Gate != nil {
			select {
			case <-script.Gate:
			case <-ctx.Done():
				return
			}
		}
		for _, chunk := range script.Chunks {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// toolArgs marshals a map into tool-call arguments.
func toolArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// ToolCallScript replays a single tool call with token usage.
func ToolCallScript(name string, args map[string]any) Script {
	return Script{Chunks: []agent.Chunk{
		&agent.ToolCallChunk{CallID: "call-" + name, Name: name, Arguments: toolArgs(args)},
		&agent.UsageChunk{InputTokens: 20, OutputTokens: 10, TotalTokens: 30},
	}}
}

// FinalAnswerScript concludes the run with the given answer.
func FinalAnswerScript(answer string) Script {
	return ToolCallScript(agent.ToolFinalAnswer, map[string]any{
		"answer": answer,
		"status": "completed",
	})
}

// ClarificationScript suspends the run with a question for the user.
func ClarificationScript(question string) Script {
	return ToolCallScript(agent.ToolClarification, map[string]any{
		"question": question,
	})
}

// SearchScript issues one web search.
func SearchScript(query string) Script {
	return ToolCallScript(agent.ToolWebSearch, map[string]any{
		"query": query,
	})
}

// TextScript replays streamed text deltas with no tool call. The engine
// treats the accumulated text as a textual final answer.
func TextScript(deltas ...string) Script {
	chunks := make([]agent.Chunk, 0, len(deltas)+1)
	for _, d := range deltas {
		chunks = append(chunks, &agent.TextChunk{Content: d})
	}
	chunks = append(chunks, &agent.UsageChunk{InputTokens: 15, OutputTokens: 5, TotalTokens: 20})
	return Script{Chunks: chunks}
}

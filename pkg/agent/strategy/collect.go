package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sondelab/sonde/pkg/agent"
)

// collected is the result of draining one LLM stream.
type collected struct {
	text      string
	toolCalls []agent.ToolCall
	usage     *agent.TokenUsage
}

// collectStream drains a chunk channel, forwarding text deltas to onDelta
// (which may be nil). An ErrorChunk aborts collection with an error.
func collectStream(ctx context.Context, ch <-chan agent.Chunk, onDelta func(string)) (*collected, error) {
	var (
		text strings.Builder
		out  collected
	)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				out.text = text.String()
				return &out, nil
			}
			switch c := chunk.(type) {
			case *agent.TextChunk:
				text.WriteString(c.Content)
				if onDelta != nil {
					onDelta(c.Content)
				}
			case *agent.ToolCallChunk:
				out.toolCalls = append(out.toolCalls, agent.ToolCall{
					ID:        c.CallID,
					Name:      c.Name,
					Arguments: json.RawMessage(c.Arguments),
				})
			case *agent.UsageChunk:
				out.usage = &agent.TokenUsage{
					InputTokens:  c.InputTokens,
					OutputTokens: c.OutputTokens,
					TotalTokens:  c.TotalTokens,
				}
			case *agent.ErrorChunk:
				return nil, fmt.Errorf("llm stream error: %s", c.Message)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

package agent

import (
	"context"

	"github.com/sondelab/sonde/pkg/config"
)

// LLMClient is the interface to the chat-completion provider. It exposes a
// channel-based streaming API; errors mid-stream are delivered as
// ErrorChunk values.
type LLMClient interface {
	// Generate sends a conversation to the LLM and returns a stream of
	// chunks. The channel is closed when the stream completes.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
}

// GenerateInput is one chat-completion request.
type GenerateInput struct {
	Messages []ConversationMessage
	Config   *config.LLMProviderConfig

	// Tools, when non-nil, are presented for native function calling.
	Tools []ToolDefinition

	// ForceToolCall requires the model to pick a tool (two-phase
	// selection calls).
	ForceToolCall bool

	// ResponseSchema, when non-nil, requests structured JSON output
	// conforming to the named schema (planner strategy).
	ResponseSchema *ResponseSchema
}

// ResponseSchema names a JSON schema for structured output.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
}

// Chunk is the interface for streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

// Chunk kinds.
const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a delta of the LLM's text response.
type TextChunk struct{ Content string }

// ToolCallChunk signals a complete accumulated tool call.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for the call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// ErrorChunk signals a provider error.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }

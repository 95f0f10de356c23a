// Package llm adapts an OpenAI-compatible chat completion API to the agent's
// streaming client interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/config"
)

// Client implements agent.LLMClient over go-openai. One client serves all
// jobs; per-call settings come from the provider config on each request.
type Client struct {
	api *openai.Client
	log *slog.Logger
}

// NewClient builds a client for the configured provider. The API key is read
// from the environment variable named in the config.
func NewClient(cfg *config.LLMProviderConfig) (*Client, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key not set (environment variable %s)", cfg.APIKeyEnv)
	}

	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &Client{
		api: openai.NewClientWithConfig(oc),
		log: slog.With("component", "llm_client"),
	}, nil
}

// Generate opens one streaming chat completion. The returned channel closes
// when the stream ends; mid-stream failures arrive as ErrorChunk values.
func (c *Client) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	req := buildRequest(input)

	cancel := context.CancelFunc(func() {})
	if input.Config != nil && input.Config.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, input.Config.RequestTimeout)
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating completion stream: %w", err)
	}

	ch := make(chan agent.Chunk)
	go func() {
		defer cancel()
		c.pump(ctx, stream, ch)
	}()
	return ch, nil
}

func buildRequest(input *agent.GenerateInput) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Messages:      convertMessages(input.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if cfg := input.Config; cfg != nil {
		req.Model = cfg.Model
		req.Temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			req.MaxTokens = cfg.MaxTokens
		}
	}

	if len(input.Tools) > 0 {
		req.Tools = convertTools(input.Tools)
		if input.ForceToolCall {
			req.ToolChoice = "required"
		}
	}

	if rs := input.ResponseSchema; rs != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   rs.Name,
				Schema: rawSchema(rs.Schema),
				Strict: true,
			},
		}
	}
	return req
}

// rawSchema lets a plain schema map satisfy the SDK's json.Marshaler schema
// field.
type rawSchema map[string]any

func (s rawSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(s))
}

func convertMessages(messages []agent.ConversationMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == agent.RoleTool {
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.ToolName
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func convertTools(defs []agent.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

// pump consumes the wire stream and converts it to agent chunks. Tool calls
// arrive as fragments and are accumulated by index until the tool_calls
// finish reason (or end of stream) completes them. Every send races the
// consumer's context so an abandoned channel never pins this goroutine.
func (c *Client) pump(ctx context.Context, stream *openai.ChatCompletionStream, ch chan<- agent.Chunk) {
	defer close(ch)
	defer stream.Close()

	send := func(chunk agent.Chunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	pending := make(map[int]*agent.ToolCallChunk)
	var order []int

	flush := func() bool {
		for _, idx := range order {
			tc := pending[idx]
			if tc.Name != "" && !send(tc) {
				return false
			}
		}
		pending = make(map[int]*agent.ToolCallChunk)
		order = nil
		return true
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				return
			}
			send(&agent.ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
			return
		}

		if response.Usage != nil {
			if !send(&agent.UsageChunk{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
				TotalTokens:  response.Usage.TotalTokens,
			}) {
				return
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !send(&agent.TextChunk{Content: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := pending[idx]
			if !ok {
				acc = &agent.ToolCallChunk{}
				pending[idx] = acc
				order = append(order, idx)
			}
			if tc.ID != "" {
				acc.CallID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.Arguments += tc.Function.Arguments
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

// isRetryable classifies provider errors the caller may retry: rate limits
// and server-side failures.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sondelab/sonde/pkg/agent"
)

type finalAnswerArgs struct {
	Answer string `json:"answer" jsonschema:"required,description=Final answer text"`
	Status string `json:"status,omitempty" jsonschema:"description=Task outcome,enum=completed,enum=failed"`
}

func finalAnswerTool() *Descriptor {
	return &Descriptor{
		Name:        agent.ToolFinalAnswer,
		Description: "Conclude the research with the final answer. Use status \"failed\" only when the task cannot be answered.",
		Category:    CategorySystem,
		InputSchema: inputSchema(&finalAnswerArgs{}),
		Terminal:    true,
		Exec: func(_ context.Context, actx *agent.Context, raw json.RawMessage) (string, error) {
			var args finalAnswerArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid final_answer arguments: %w", err)
			}
			if strings.TrimSpace(args.Answer) == "" {
				return "", fmt.Errorf("final_answer requires an answer")
			}

			actx.SetExecutionResult(args.Answer)
			if args.Status == "failed" {
				actx.SetState(agent.StateFailed)
			} else {
				actx.SetState(agent.StateCompleted)
			}
			return args.Answer, nil
		},
	}
}

type clarificationArgs struct {
	Question string `json:"question" jsonschema:"required,description=Question for the user"`
}

func clarificationTool() *Descriptor {
	return &Descriptor{
		Name:        agent.ToolClarification,
		Description: "Ask the user a clarifying question and wait for the answer before continuing.",
		Category:    CategorySystem,
		InputSchema: inputSchema(&clarificationArgs{}),
		Suspending:  true,
		Exec: func(_ context.Context, actx *agent.Context, raw json.RawMessage) (string, error) {
			var args clarificationArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid clarification arguments: %w", err)
			}
			if strings.TrimSpace(args.Question) == "" {
				return "", fmt.Errorf("clarification requires a question")
			}

			actx.SetPendingQuestion(args.Question)
			return "Clarification requested: " + args.Question, nil
		},
	}
}

// Package strategy implements the iteration strategies of the agent loop:
// planner (one structured-output call carrying reasoning and the tool
// invocation), native (the model's own function-call payload), and two-phase
// (a reasoning call followed by a forced tool-selection call).
package strategy

import (
	"fmt"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/config"
)

// New creates the strategy selected by an agent profile.
func New(name config.IterationStrategy, client agent.LLMClient, llmCfg *config.LLMProviderConfig) (agent.Strategy, error) {
	switch name {
	case config.IterationStrategyPlanner:
		return NewPlanner(client, llmCfg), nil
	case config.IterationStrategyNative:
		return NewNative(client, llmCfg), nil
	case config.IterationStrategyTwoPhase:
		return NewTwoPhase(client, llmCfg), nil
	default:
		return nil, fmt.Errorf("unsupported iteration strategy: %s (supported: planner, native, twophase)", name)
	}
}

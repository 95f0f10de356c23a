package config

// IterationStrategy selects how the agent loop derives reasoning and the
// next tool invocation from the LLM.
type IterationStrategy string

const (
	// IterationStrategyPlanner makes one LLM call per iteration with a
	// JSON-schema response format; the structured reply carries both the
	// reasoning fields and the embedded tool invocation.
	IterationStrategyPlanner IterationStrategy = "planner"
	// IterationStrategyNative asks the LLM for a native function-call
	// payload; plain text replies are treated as a final answer.
	IterationStrategyNative IterationStrategy = "native"
	// IterationStrategyTwoPhase performs a reasoning-only call followed by
	// a forced tool-selection call.
	IterationStrategyTwoPhase IterationStrategy = "twophase"
)

// IsValid checks if the iteration strategy is valid
func (s IterationStrategy) IsValid() bool {
	switch s {
	case IterationStrategyPlanner,
		IterationStrategyNative,
		IterationStrategyTwoPhase:
		return true
	default:
		return false
	}
}

package config

import "time"

// AgentConfig holds the budget ceilings and strategy profiles for agent
// execution. Budgets are HARD limits: the engine never exceeds them
// regardless of what the LLM asks for.
type AgentConfig struct {
	// MaxIterations is the ceiling on reasoning iterations per job.
	// When reached, the tool set is restricted to terminal tools only.
	MaxIterations int `yaml:"max_iterations"`

	// MaxSearches is the ceiling on web_search executions per job.
	MaxSearches int `yaml:"max_searches"`

	// MaxClarifications is the ceiling on clarification rounds per job.
	MaxClarifications int `yaml:"max_clarifications"`

	// IterationTimeout bounds a single reasoning+action cycle.
	IterationTimeout time.Duration `yaml:"iteration_timeout"`

	// Profiles maps an agent_type tag (as submitted with a job) to its
	// strategy and optional budget overrides.
	Profiles map[string]AgentProfile `yaml:"profiles"`
}

// AgentProfile selects the iteration strategy and optional budget overrides
// for one agent_type. Nil override fields fall through to AgentConfig.
type AgentProfile struct {
	Strategy IterationStrategy `yaml:"strategy"`

	MaxIterations     *int `yaml:"max_iterations,omitempty"`
	MaxSearches       *int `yaml:"max_searches,omitempty"`
	MaxClarifications *int `yaml:"max_clarifications,omitempty"`

	// CustomInstructions is appended to the system prompt for this profile.
	CustomInstructions string `yaml:"custom_instructions,omitempty"`
}

// ResolvedBudgets are the effective per-job ceilings after applying profile
// overrides on top of the agent defaults.
type ResolvedBudgets struct {
	MaxIterations     int
	MaxSearches       int
	MaxClarifications int

	// IterationTimeout bounds one reasoning+action cycle in wall-clock
	// time. Zero disables the bound.
	IterationTimeout time.Duration
}

// Resolve computes the effective budgets for a profile.
func (c *AgentConfig) Resolve(p *AgentProfile) ResolvedBudgets {
	b := ResolvedBudgets{
		MaxIterations:     c.MaxIterations,
		MaxSearches:       c.MaxSearches,
		MaxClarifications: c.MaxClarifications,
		IterationTimeout:  c.IterationTimeout,
	}
	if p == nil {
		return b
	}
	if p.MaxIterations != nil {
		b.MaxIterations = *p.MaxIterations
	}
	if p.MaxSearches != nil {
		b.MaxSearches = *p.MaxSearches
	}
	if p.MaxClarifications != nil {
		b.MaxClarifications = *p.MaxClarifications
	}
	return b
}

// DefaultAgentConfig returns the built-in agent defaults. The stock profiles
// cover the three iteration strategies; deployments add or override profiles
// in sonde.yaml.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		MaxIterations:     10,
		MaxSearches:       4,
		MaxClarifications: 3,
		IterationTimeout:  120 * time.Second,
		Profiles: map[string]AgentProfile{
			"sgr":      {Strategy: IterationStrategyPlanner},
			"toolcall": {Strategy: IterationStrategyNative},
			"twophase": {Strategy: IterationStrategyTwoPhase},
		},
	}
}

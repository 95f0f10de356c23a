package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveBudgetsGlobalDefaults(t *testing.T) {
	cfg := DefaultAgentConfig()

	budgets := cfg.Resolve(&AgentProfile{Strategy: IterationStrategyPlanner})

	assert.Equal(t, cfg.MaxIterations, budgets.MaxIterations)
	assert.Equal(t, cfg.MaxSearches, budgets.MaxSearches)
	assert.Equal(t, cfg.MaxClarifications, budgets.MaxClarifications)
}

func TestResolveBudgetsProfileOverrides(t *testing.T) {
	cfg := DefaultAgentConfig()
	iterations := 3
	searches := 1
	clarifications := 0

	budgets := cfg.Resolve(&AgentProfile{
		Strategy:          IterationStrategyNative,
		MaxIterations:     &iterations,
		MaxSearches:       &searches,
		MaxClarifications: &clarifications,
	})

	assert.Equal(t, 3, budgets.MaxIterations)
	assert.Equal(t, 1, budgets.MaxSearches)
	assert.Equal(t, 0, budgets.MaxClarifications)
}

func TestResolveBudgetsPartialOverride(t *testing.T) {
	cfg := DefaultAgentConfig()
	searches := 2

	budgets := cfg.Resolve(&AgentProfile{
		Strategy:    IterationStrategyPlanner,
		MaxSearches: &searches,
	})

	assert.Equal(t, cfg.MaxIterations, budgets.MaxIterations)
	assert.Equal(t, 2, budgets.MaxSearches)
	assert.Equal(t, cfg.MaxClarifications, budgets.MaxClarifications)
}

func TestResolveBudgetsNilProfile(t *testing.T) {
	cfg := DefaultAgentConfig()

	budgets := cfg.Resolve(nil)

	assert.Equal(t, cfg.MaxIterations, budgets.MaxIterations)
	assert.Equal(t, cfg.MaxSearches, budgets.MaxSearches)
}

package config

import (
	"fmt"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}

	if err := v.validateAgent(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateBroker(); err != nil {
		return fmt.Errorf("broker validation failed: %w", err)
	}

	if err := v.validateResearch(); err != nil {
		return fmt.Errorf("research validation failed: %w", err)
	}

	if err := v.validateMasking(); err != nil {
		return fmt.Errorf("masking validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s == nil {
		return NewValidationError("server", "", "", fmt.Errorf("section required"))
	}

	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "", "port", fmt.Errorf("must be between 1 and 65535, got %d", s.Port))
	}

	return nil
}

func (v *ConfigValidator) validateLLM() error {
	l := v.cfg.LLM
	if l == nil {
		return NewValidationError("llm", "", "", fmt.Errorf("section required"))
	}

	if l.Model == "" {
		return NewValidationError("llm", "", "model", fmt.Errorf("model required"))
	}

	// Validate API key environment variable is set (if specified)
	if l.APIKeyEnv != "" {
		if value := os.Getenv(l.APIKeyEnv); value == "" {
			return NewValidationError("llm", "", "api_key_env", fmt.Errorf("environment variable %s is not set", l.APIKeyEnv))
		}
	}

	if l.Temperature < 0 || l.Temperature > 2 {
		return NewValidationError("llm", "", "temperature", fmt.Errorf("must be between 0 and 2, got %v", l.Temperature))
	}

	if l.MaxTokens < 1 {
		return NewValidationError("llm", "", "max_tokens", fmt.Errorf("must be at least 1"))
	}

	if l.RequestTimeout <= 0 {
		return NewValidationError("llm", "", "request_timeout", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateAgent() error {
	a := v.cfg.Agent
	if a == nil {
		return NewValidationError("agent", "", "", fmt.Errorf("section required"))
	}

	if a.MaxIterations < 1 {
		return NewValidationError("agent", "", "max_iterations", fmt.Errorf("must be at least 1"))
	}
	if a.MaxSearches < 0 {
		return NewValidationError("agent", "", "max_searches", fmt.Errorf("must not be negative"))
	}
	if a.MaxClarifications < 0 {
		return NewValidationError("agent", "", "max_clarifications", fmt.Errorf("must not be negative"))
	}
	if a.IterationTimeout <= 0 {
		return NewValidationError("agent", "", "iteration_timeout", fmt.Errorf("must be positive"))
	}

	if len(a.Profiles) == 0 {
		return NewValidationError("agent", "", "profiles", fmt.Errorf("at least one profile required"))
	}

	for name, profile := range a.Profiles {
		// Validate iteration strategy if specified (empty falls back to planner)
		if profile.Strategy != "" && !profile.Strategy.IsValid() {
			return NewValidationError("profile", name, "strategy", fmt.Errorf("invalid strategy: %s", profile.Strategy))
		}

		if profile.MaxIterations != nil && *profile.MaxIterations < 1 {
			return NewValidationError("profile", name, "max_iterations", fmt.Errorf("must be at least 1"))
		}
		if profile.MaxSearches != nil && *profile.MaxSearches < 0 {
			return NewValidationError("profile", name, "max_searches", fmt.Errorf("must not be negative"))
		}
		if profile.MaxClarifications != nil && *profile.MaxClarifications < 0 {
			return NewValidationError("profile", name, "max_clarifications", fmt.Errorf("must not be negative"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return NewValidationError("queue", "", "", fmt.Errorf("section required"))
	}

	if q.WorkerCount < 1 {
		return NewValidationError("queue", "", "worker_count", fmt.Errorf("must be at least 1"))
	}
	if q.MaxConcurrentJobs < 1 {
		return NewValidationError("queue", "", "max_concurrent_jobs", fmt.Errorf("must be at least 1"))
	}
	if q.MaxTrackedJobs < 1 {
		return NewValidationError("queue", "", "max_tracked_jobs", fmt.Errorf("must be at least 1"))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "", "poll_interval", fmt.Errorf("must be positive"))
	}
	if q.PersistDir == "" {
		return NewValidationError("queue", "", "persist_dir", fmt.Errorf("directory required"))
	}
	if q.SnapshotInterval <= 0 {
		return NewValidationError("queue", "", "snapshot_interval", fmt.Errorf("must be positive"))
	}
	if q.CompletedRetention <= 0 {
		return NewValidationError("queue", "", "completed_retention", fmt.Errorf("must be positive"))
	}
	if q.CleanupInterval <= 0 {
		return NewValidationError("queue", "", "cleanup_interval", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateBroker() error {
	b := v.cfg.Broker
	if b == nil {
		return NewValidationError("broker", "", "", fmt.Errorf("section required"))
	}

	if b.SubscriberBuffer < 1 {
		return NewValidationError("broker", "", "subscriber_buffer", fmt.Errorf("must be at least 1"))
	}
	if b.KeepaliveInterval <= 0 {
		return NewValidationError("broker", "", "keepalive_interval", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateResearch() error {
	r := v.cfg.Research
	if r == nil {
		return NewValidationError("research", "", "", fmt.Errorf("section required"))
	}

	if r.Search.MaxResults < 1 {
		return NewValidationError("research", "", "search.max_results", fmt.Errorf("must be at least 1"))
	}
	if r.Search.Timeout <= 0 {
		return NewValidationError("research", "", "search.timeout", fmt.Errorf("must be positive"))
	}
	if r.Extract.MaxContentBytes < 1024 {
		return NewValidationError("research", "", "extract.max_content_bytes", fmt.Errorf("must be at least 1024"))
	}
	if r.Extract.Timeout <= 0 {
		return NewValidationError("research", "", "extract.timeout", fmt.Errorf("must be positive"))
	}
	if r.ArtifactsDir == "" {
		return NewValidationError("research", "", "artifacts_dir", fmt.Errorf("directory required"))
	}

	return nil
}

func (v *ConfigValidator) validateMasking() error {
	m := v.cfg.Masking
	if m == nil || !m.Enabled {
		return nil
	}

	builtinPatterns := BuiltinMaskingPatterns()
	builtinGroups := BuiltinPatternGroups()

	// Validate pattern groups reference built-in groups
	for _, groupName := range m.PatternGroups {
		if _, exists := builtinGroups[groupName]; !exists {
			return NewValidationError("masking", "", "pattern_groups", fmt.Errorf("pattern group '%s' not found", groupName))
		}
	}

	// Validate individual patterns reference built-in patterns
	for _, patternName := range m.Patterns {
		if _, exists := builtinPatterns[patternName]; !exists {
			return NewValidationError("masking", "", "patterns", fmt.Errorf("pattern '%s' not found", patternName))
		}
	}

	// Validate custom patterns have required fields
	for i, pattern := range m.CustomPatterns {
		if pattern.Pattern == "" {
			return NewValidationError("masking", "", fmt.Sprintf("custom_patterns[%d].pattern", i), fmt.Errorf("pattern required"))
		}
		if pattern.Replacement == "" {
			return NewValidationError("masking", "", fmt.Sprintf("custom_patterns[%d].replacement", i), fmt.Errorf("replacement required"))
		}
	}

	return nil
}

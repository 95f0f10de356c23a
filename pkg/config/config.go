// Package config loads, merges, and validates sonde's YAML configuration.
//
// Configuration comes from a single sonde.yaml in the config directory.
// Environment variables are referenced with {{.VAR}} template syntax and
// expanded before parsing. User-provided sections are merged over built-in
// defaults, so a minimal (or absent) file yields a fully usable config.
package config

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Server   *ServerConfig
	LLM      *LLMProviderConfig
	Agent    *AgentConfig
	Queue    *QueueConfig
	Broker   *BrokerConfig
	Research *ResearchConfig
	Masking  *MaskingConfig
}

// Initialize is defined in loader.go

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Profile retrieves the agent profile registered for an agent type.
// The boolean is false when the type is unknown.
func (c *Config) Profile(agentType string) (*AgentProfile, bool) {
	if c.Agent == nil {
		return nil, false
	}
	p, ok := c.Agent.Profiles[agentType]
	if !ok {
		return nil, false
	}
	return &p, true
}

// AgentTypes returns the configured agent type names, unsorted.
func (c *Config) AgentTypes() []string {
	if c.Agent == nil {
		return nil
	}
	types := make([]string, 0, len(c.Agent.Profiles))
	for name := range c.Agent.Profiles {
		types = append(types, name)
	}
	return types
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Profiles      int
	MaxConcurrent int
	WorkerCount   int
	PersistDir    string
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Agent != nil {
		s.Profiles = len(c.Agent.Profiles)
	}
	if c.Queue != nil {
		s.MaxConcurrent = c.Queue.MaxConcurrentJobs
		s.WorkerCount = c.Queue.WorkerCount
		s.PersistDir = c.Queue.PersistDir
	}
	return s
}

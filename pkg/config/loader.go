package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// SondeYAMLConfig represents the complete sonde.yaml file structure.
// Every section is optional; absent sections fall back to built-in defaults.
type SondeYAMLConfig struct {
	Server   *ServerConfig      `yaml:"server"`
	LLM      *LLMProviderConfig `yaml:"llm"`
	Agent    *AgentConfig       `yaml:"agent"`
	Queue    *QueueConfig       `yaml:"queue"`
	Broker   *BrokerConfig      `yaml:"broker"`
	Research *ResearchConfig    `yaml:"research"`
	Masking  *MaskingYAMLConfig `yaml:"masking"`
}

// MaskingYAMLConfig holds masking settings from YAML.
// Enabled is a pointer so "enabled: false" survives merging with defaults.
type MaskingYAMLConfig struct {
	Enabled        *bool            `yaml:"enabled,omitempty"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load sonde.yaml from configDir (absent file means defaults only)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined sections over built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"profiles", stats.Profiles,
		"max_concurrent", stats.MaxConcurrent,
		"workers", stats.WorkerCount,
		"persist_dir", stats.PersistDir)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	yamlConfig, err := loader.loadSondeYAML()
	if err != nil {
		return nil, NewLoadError("sonde.yaml", err)
	}

	// Resolve each section: start with defaults, then merge user config on
	// top so unset fields keep their default values.
	serverCfg := DefaultServerConfig()
	if yamlConfig.Server != nil {
		if err := mergo.Merge(serverCfg, yamlConfig.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	llmCfg := DefaultLLMProviderConfig()
	if yamlConfig.LLM != nil {
		if err := mergo.Merge(llmCfg, yamlConfig.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}

	agentCfg := DefaultAgentConfig()
	if yamlConfig.Agent != nil {
		// Profiles merge per name below; keep mergo off the map so user
		// files cannot silently drop the built-in profiles.
		userProfiles := yamlConfig.Agent.Profiles
		yamlConfig.Agent.Profiles = nil
		if err := mergo.Merge(agentCfg, yamlConfig.Agent, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge agent config: %w", err)
		}
		agentCfg.Profiles = mergeProfiles(agentCfg.Profiles, userProfiles)
	}

	queueCfg := DefaultQueueConfig()
	if yamlConfig.Queue != nil {
		if err := mergo.Merge(queueCfg, yamlConfig.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	brokerCfg := DefaultBrokerConfig()
	if yamlConfig.Broker != nil {
		if err := mergo.Merge(brokerCfg, yamlConfig.Broker, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge broker config: %w", err)
		}
	}

	researchCfg := DefaultResearchConfig()
	if yamlConfig.Research != nil {
		if err := mergo.Merge(researchCfg, yamlConfig.Research, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge research config: %w", err)
		}
	}

	maskingCfg := resolveMaskingConfig(yamlConfig.Masking)

	return &Config{
		configDir: configDir,
		Server:    serverCfg,
		LLM:       llmCfg,
		Agent:     agentCfg,
		Queue:     queueCfg,
		Broker:    brokerCfg,
		Research:  researchCfg,
		Masking:   maskingCfg,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// loadSondeYAML reads sonde.yaml. A missing file is not an error: the
// service runs fine on built-in defaults plus environment variables.
func (l *configLoader) loadSondeYAML() (*SondeYAMLConfig, error) {
	var config SondeYAMLConfig

	if err := l.loadYAML("sonde.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Warn("sonde.yaml not found, using built-in defaults",
				"config_dir", l.configDir)
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}

// mergeProfiles merges built-in and user-defined agent profiles.
// User-defined profiles override built-in profiles with the same name.
func mergeProfiles(builtin map[string]AgentProfile, user map[string]AgentProfile) map[string]AgentProfile {
	result := make(map[string]AgentProfile, len(builtin)+len(user))

	for name, profile := range builtin {
		result[name] = profile
	}

	for name, profile := range user {
		result[name] = profile
	}

	return result
}

// resolveMaskingConfig resolves masking configuration from YAML, applying defaults.
func resolveMaskingConfig(y *MaskingYAMLConfig) *MaskingConfig {
	cfg := DefaultMaskingConfig()

	if y == nil {
		return cfg
	}

	if y.Enabled != nil {
		cfg.Enabled = *y.Enabled
	}
	if len(y.PatternGroups) > 0 {
		cfg.PatternGroups = y.PatternGroups
	}
	if len(y.Patterns) > 0 {
		cfg.Patterns = y.Patterns
	}
	if len(y.CustomPatterns) > 0 {
		cfg.CustomPatterns = y.CustomPatterns
	}

	return cfg
}

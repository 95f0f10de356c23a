package config

import "time"

// LLMProviderConfig defines the OpenAI-compatible chat endpoint the agent
// loop talks to. BaseURL covers self-hosted and proxy deployments; the API
// key is resolved from the environment at client construction, never stored.
type LLMProviderConfig struct {
	// Model name sent with every request (required)
	Model string `yaml:"model"`

	// Environment variable name holding the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint for OpenAI-compatible servers
	BaseURL string `yaml:"base_url,omitempty"`

	// Sampling temperature; zero means provider default
	Temperature float32 `yaml:"temperature,omitempty"`

	// MaxTokens caps completion length per call; zero means provider default
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// RequestTimeout bounds a single chat completion call
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// DefaultLLMProviderConfig returns the built-in LLM defaults.
func DefaultLLMProviderConfig() *LLMProviderConfig {
	return &LLMProviderConfig{
		Model:          "gpt-4o",
		APIKeyEnv:      "OPENAI_API_KEY",
		Temperature:    0.2,
		MaxTokens:      4096,
		RequestTimeout: 120 * time.Second,
	}
}

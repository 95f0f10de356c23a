package config

import "time"

// ResearchConfig groups the research tool plumbing: search provider,
// page extraction, and artifact output.
type ResearchConfig struct {
	Search  SearchConfig  `yaml:"search"`
	Extract ExtractConfig `yaml:"extract"`

	// ArtifactsDir is the root for per-job artifact directories
	// ({artifacts_dir}/{job_id}/report.md etc).
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// SearchConfig describes the external search API. The provider is generic:
// any Tavily-shaped JSON POST endpoint works.
type SearchConfig struct {
	// BaseURL of the search API.
	BaseURL string `yaml:"base_url"`

	// Environment variable name holding the search API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// MaxResults per query sent to the provider.
	MaxResults int `yaml:"max_results"`

	// Timeout bounds one search request.
	Timeout time.Duration `yaml:"timeout"`
}

// ExtractConfig controls page fetching and readable-text extraction.
type ExtractConfig struct {
	// MaxContentBytes caps the response body read per fetch.
	MaxContentBytes int64 `yaml:"max_content_bytes"`

	// CacheTTL is how long extracted pages stay cached (keyed by URL).
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// AllowedDomains restricts fetchable hosts when non-empty
	// (suffix match, subdomains included).
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`

	// Timeout bounds one page fetch.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultResearchConfig returns the built-in research defaults.
func DefaultResearchConfig() *ResearchConfig {
	return &ResearchConfig{
		Search: SearchConfig{
			BaseURL:    "https://api.tavily.com",
			APIKeyEnv:  "TAVILY_API_KEY",
			MaxResults: 5,
			Timeout:    15 * time.Second,
		},
		Extract: ExtractConfig{
			MaxContentBytes: 1 << 20, // 1MB
			CacheTTL:        15 * time.Minute,
			Timeout:         15 * time.Second,
		},
		ArtifactsDir: "data/artifacts",
	}
}

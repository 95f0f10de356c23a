package config

// MaskingConfig controls credential masking applied to tool results before
// they reach the transcript, the stream, or disk.
type MaskingConfig struct {
	Enabled bool `yaml:"enabled"`

	// PatternGroups are names of built-in pattern groups to apply.
	PatternGroups []string `yaml:"pattern_groups,omitempty"`

	// Patterns are names of individual built-in patterns to apply.
	Patterns []string `yaml:"patterns,omitempty"`

	// CustomPatterns are deployment-specific regex patterns.
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MaskingPattern is one regex rule.
type MaskingPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

// DefaultMaskingConfig returns the built-in masking defaults.
func DefaultMaskingConfig() *MaskingConfig {
	return &MaskingConfig{
		Enabled:       true,
		PatternGroups: []string{"credentials"},
	}
}

// BuiltinMaskingPatterns returns the named regex patterns available to
// masking configuration. Patterns favor precision over recall: a research
// transcript full of false-positive masks is worse than a rare miss.
func BuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|passwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		"url_credentials": {
			Pattern:     `(?i)([a-z][a-z0-9+\-.]*://)[^/\s:@]+:[^/\s:@]+@`,
			Replacement: `${1}__MASKED_CREDENTIALS__@`,
			Description: "Credentials embedded in URLs",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `__MASKED_EMAIL__`,
			Description: "Email addresses",
		},
		"aws_access_key": {
			Pattern:     `\bAKIA[A-Z0-9]{16}\b`,
			Replacement: `__MASKED_AWS_KEY__`,
			Description: "AWS access keys",
		},
		"github_token": {
			Pattern:     `\bgh[ps]_[A-Za-z0-9_]{36,255}\b`,
			Replacement: `__MASKED_GITHUB_TOKEN__`,
			Description: "GitHub tokens",
		},
	}
}

// BuiltinPatternGroups returns predefined groups of masking patterns.
func BuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"credentials": {"api_key", "token", "password", "url_credentials"},
		"cloud":       {"aws_access_key", "github_token", "api_key", "token"},
		"pii":         {"email"},
		"all":         {"api_key", "token", "password", "url_credentials", "email", "aws_access_key", "github_token"},
	}
}

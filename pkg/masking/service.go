// Package masking redacts credentials from tool results before they reach
// the transcript, the event stream, or disk.
package masking

import (
	"log/slog"

	"github.com/sondelab/sonde/pkg/config"
)

// Service applies compiled masking patterns to text. Created once at
// application startup. Thread-safe and stateless aside from the compiled
// patterns.
type Service struct {
	enabled  bool
	patterns []*CompiledPattern
}

// NewService compiles the configured patterns eagerly. A nil config falls
// back to the defaults.
func NewService(cfg *config.MaskingConfig) *Service {
	log := slog.With("component", "masking")
	if cfg == nil {
		cfg = config.DefaultMaskingConfig()
	}

	s := &Service{enabled: cfg.Enabled}
	if cfg.Enabled {
		s.patterns = resolvePatterns(cfg, log)
	}

	log.Info("Masking service initialized",
		"enabled", s.enabled,
		"patterns", len(s.patterns))
	return s
}

// Mask applies every configured pattern in order. Disabled services pass
// text through unchanged.
func (s *Service) Mask(text string) string {
	if !s.enabled || text == "" {
		return text
	}
	masked := text
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

// Enabled reports whether masking is active.
func (s *Service) Enabled() bool { return s.enabled }

// PatternCount returns the number of compiled patterns.
func (s *Service) PatternCount() int { return len(s.patterns) }

package masking

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/sondelab/sonde/pkg/config"
)

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// resolvePatterns expands the configured groups, individual patterns, and
// custom patterns into an ordered, deduplicated compiled list. Unknown names
// and invalid regexes are logged and skipped.
func resolvePatterns(cfg *config.MaskingConfig, log *slog.Logger) []*CompiledPattern {
	builtins := config.BuiltinMaskingPatterns()
	groups := config.BuiltinPatternGroups()

	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, group := range cfg.PatternGroups {
		members, ok := groups[group]
		if !ok {
			log.Warn("Unknown masking pattern group, skipping", "group", group)
			continue
		}
		for _, name := range members {
			add(name)
		}
	}
	for _, name := range cfg.Patterns {
		add(name)
	}

	var compiled []*CompiledPattern
	for _, name := range names {
		p, ok := builtins[name]
		if !ok {
			log.Warn("Unknown masking pattern, skipping", "pattern", name)
			continue
		}
		compiled = appendCompiled(compiled, name, p, log)
	}
	for i, p := range cfg.CustomPatterns {
		compiled = appendCompiled(compiled, fmt.Sprintf("custom:%d", i), p, log)
	}
	return compiled
}

// appendCompiled compiles one pattern, skipping it on a compile error.
func appendCompiled(list []*CompiledPattern, name string, p config.MaskingPattern, log *slog.Logger) []*CompiledPattern {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		log.Error("Failed to compile masking pattern, skipping", "pattern", name, "error", err)
		return list
	}
	return append(list, &CompiledPattern{
		Name:        name,
		Regex:       re,
		Replacement: p.Replacement,
		Description: p.Description,
	})
}

package tools

import (
	"strings"

	"github.com/sondelab/sonde/pkg/research"
)

// Deps carries the providers behind the built-in research tools.
type Deps struct {
	Search    research.SearchProvider
	Extractor research.PageExtractor
	Artifacts *research.ArtifactStore

	// MaxSearchResults caps the per-query result count.
	MaxSearchResults int
}

// RegisterBuiltins registers the built-in tool set against the given
// dependencies.
func RegisterBuiltins(reg *Registry, deps Deps) {
	reg.Register(searchTool(deps))
	reg.Register(extractTool(deps))
	reg.Register(saveNoteTool())
	reg.Register(listNotesTool())
	reg.Register(reportTool(deps))
	reg.Register(finalAnswerTool())
	reg.Register(clarificationTool())
}

// truncate cuts s at limit bytes with a marker, keeping short strings as-is.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := strings.ToValidUTF8(s[:limit], "")
	return cut + "\n... (truncated)"
}

package models

import "time"

// Source is a retrieved document, uniquely identified by URL within one
// agent. Numbers are dense, start at 1, and never change once assigned.
type Source struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
	FullContent string `json:"full_content,omitempty"`
	CharCount   int    `json:"char_count"`
}

// SearchResult is one executed web search: the query, the provider's
// synthesized answer (if any), and the sources it returned.
type SearchResult struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer,omitempty"`
	Sources   []Source  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

// ArtifactRef points to a file produced during research (report renderings).
type ArtifactRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind string `json:"kind"` // "markdown" or "html"
}

// ResearchMetrics aggregates counters for a completed job.
type ResearchMetrics struct {
	DurationMS   int64 `json:"duration_ms"`
	Iterations   int   `json:"iterations"`
	SearchesUsed int   `json:"searches_used"`
	SourcesFound int   `json:"sources_found"`
	InputTokens  int   `json:"input_tokens,omitempty"`
	OutputTokens int   `json:"output_tokens,omitempty"`
	TotalTokens  int   `json:"total_tokens,omitempty"`
}

// ResearchResult is the structured answer attached to a COMPLETED job.
type ResearchResult struct {
	FinalAnswer string          `json:"final_answer"`
	Sources     []Source        `json:"sources,omitempty"`
	Metrics     ResearchMetrics `json:"metrics"`
	Artifacts   []ArtifactRef   `json:"artifacts,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *ResearchResult) Clone() *ResearchResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Sources != nil {
		c.Sources = make([]Source, len(r.Sources))
		copy(c.Sources, r.Sources)
	}
	if r.Artifacts != nil {
		c.Artifacts = make([]ArtifactRef, len(r.Artifacts))
		copy(c.Artifacts, r.Artifacts)
	}
	return &c
}

package api

// SubmitJobRequest is the HTTP request body for POST /api/v1/jobs.
type SubmitJobRequest struct {
	Query     string         `json:"query"`
	AgentType string         `json:"agent_type,omitempty"`
	DeepLevel int            `json:"deep_level,omitempty"`
	Priority  int            `json:"priority,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ClarificationRequest is the HTTP request body for
// POST /api/v1/jobs/:id/clarification.
type ClarificationRequest struct {
	Text string `json:"text"`
}

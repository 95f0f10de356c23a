package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/models"
)

const snippetLimit = 300

type searchArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Result count override for this query"`
}

func searchTool(deps Deps) *Descriptor {
	return &Descriptor{
		Name:        agent.ToolWebSearch,
		Description: "Search the web for sources relevant to a query. Found pages are added to the numbered source table.",
		Category:    CategoryResearch,
		InputSchema: inputSchema(&searchArgs{}),
		Exec: func(ctx context.Context, actx *agent.Context, raw json.RawMessage) (string, error) {
			var args searchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid web_search arguments: %w", err)
			}
			if strings.TrimSpace(args.Query) == "" {
				return "", fmt.Errorf("web_search requires a non-empty query")
			}

			maxResults := args.MaxResults
			if maxResults <= 0 || maxResults > deps.MaxSearchResults {
				maxResults = deps.MaxSearchResults
			}

			result, err := deps.Search.Search(ctx, args.Query, maxResults)
			if err != nil {
				return "", err
			}

			// Insert through the context so numbers are dense and stable
			// across repeated URLs.
			stored := make([]models.Source, 0, len(result.Sources))
			for _, src := range result.Sources {
				stored = append(stored, actx.InsertSource(src))
			}
			result.Sources = stored
			actx.RecordSearch(*result)

			return searchDigest(result), nil
		},
	}
}

// searchDigest renders the result for the transcript: the provider answer
// plus one numbered block per source.
func searchDigest(result *models.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search: %s\n", result.Query)
	if result.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", result.Answer)
	}
	if len(result.Sources) == 0 {
		b.WriteString("\nNo results found.")
		return b.String()
	}
	for _, src := range result.Sources {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n%s\n", src.Number, src.Title, src.URL, truncate(src.Snippet, snippetLimit))
	}
	return b.String()
}

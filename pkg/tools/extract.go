package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/models"
)

// extractTranscriptLimit caps how much extracted text enters the transcript;
// the full content stays on the source record.
const extractTranscriptLimit = 8000

type extractArgs struct {
	URL string `json:"url" jsonschema:"required,description=URL of the page to fetch and extract"`
}

func extractTool(deps Deps) *Descriptor {
	return &Descriptor{
		Name:        "extract_page",
		Description: "Fetch a URL and extract its readable text. The full content is stored on the page's source entry.",
		Category:    CategoryResearch,
		InputSchema: inputSchema(&extractArgs{}),
		Exec: func(ctx context.Context, actx *agent.Context, raw json.RawMessage) (string, error) {
			var args extractArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid extract_page arguments: %w", err)
			}
			if strings.TrimSpace(args.URL) == "" {
				return "", fmt.Errorf("extract_page requires a url")
			}

			page, err := deps.Extractor.Extract(ctx, args.URL)
			if err != nil {
				return "", err
			}

			stored := actx.InsertSource(models.Source{
				URL:         page.URL,
				Title:       page.Title,
				FullContent: page.Text,
				CharCount:   page.CharCount,
			})

			return fmt.Sprintf("[%d] %s (%d chars)\n%s",
				stored.Number, stored.URL, page.CharCount,
				truncate(page.Text, extractTranscriptLimit)), nil
		},
	}
}

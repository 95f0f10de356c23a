package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sondelab/sonde/pkg/agent"
)

type reportArgs struct {
	Title string `json:"title" jsonschema:"required,description=Report title"`
	Body  string `json:"body" jsonschema:"required,description=Report body in Markdown, cite sources as [n]"`
}

func reportTool(deps Deps) *Descriptor {
	return &Descriptor{
		Name:        agent.ToolCreateReport,
		Description: "Write the research report as Markdown and HTML artifacts. The numbered source list is appended automatically.",
		Category:    CategoryResearch,
		InputSchema: inputSchema(&reportArgs{}),
		Terminal:    true,
		Exec: func(_ context.Context, actx *agent.Context, raw json.RawMessage) (string, error) {
			var args reportArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid create_report arguments: %w", err)
			}
			if strings.TrimSpace(args.Title) == "" || strings.TrimSpace(args.Body) == "" {
				return "", fmt.Errorf("create_report requires a title and a body")
			}

			refs, err := deps.Artifacts.WriteReport(actx.JobID(), args.Title, args.Body, actx.Sources())
			if err != nil {
				return "", err
			}
			for _, ref := range refs {
				actx.AddArtifact(ref)
			}

			var b strings.Builder
			b.WriteString("Report written:\n")
			for _, ref := range refs {
				fmt.Fprintf(&b, "- %s\n", ref.Path)
			}
			return b.String(), nil
		},
	}
}

package research

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/sondelab/sonde/pkg/models"
)

// Artifact kinds recorded in ArtifactRef.Kind.
const (
	ArtifactKindMarkdown = "markdown"
	ArtifactKindHTML     = "html"
)

const htmlPageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`

// ArtifactStore writes report artifacts under {root}/{job_id}/. Each report
// produces a Markdown file and a goldmark-rendered HTML file.
type ArtifactStore struct {
	root string
	md   goldmark.Markdown
	log  *slog.Logger
}

// NewArtifactStore creates a store rooted at dir.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{
		root: dir,
		md:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
		log:  slog.With("component", "artifact_store"),
	}
}

// JobDir returns the artifact directory for one job.
func (s *ArtifactStore) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// WriteReport renders the report body plus a numbered source list into
// report.md and report.html for the job, returning references to both files.
func (s *ArtifactStore) WriteReport(jobID, title, body string, sources []models.Source) ([]models.ArtifactRef, error) {
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}

	markdown := composeReport(title, body, sources)
	mdPath := filepath.Join(dir, "report.md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("writing report.md: %w", err)
	}

	var rendered bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &rendered); err != nil {
		return nil, fmt.Errorf("rendering report HTML: %w", err)
	}
	htmlPath := filepath.Join(dir, "report.html")
	page := fmt.Sprintf(htmlPageTemplate, htmlEscape(title), rendered.String())
	if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
		return nil, fmt.Errorf("writing report.html: %w", err)
	}

	s.log.Info("Report written", "job_id", jobID, "markdown_bytes", len(markdown))
	return []models.ArtifactRef{
		{Name: "report.md", Path: mdPath, Kind: ArtifactKindMarkdown},
		{Name: "report.html", Path: htmlPath, Kind: ArtifactKindHTML},
	}, nil
}

func composeReport(title, body string, sources []models.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n")

	if len(sources) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, src := range sources {
			name := src.Title
			if name == "" {
				name = src.URL
			}
			fmt.Fprintf(&b, "%d. [%s](%s)\n", src.Number, name, src.URL)
		}
	}
	return b.String()
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

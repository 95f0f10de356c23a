package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sondelab/sonde/pkg/agent"
)

const notePreviewLimit = 120

type saveNoteArgs struct {
	Name    string `json:"name" jsonschema:"required,description=Note name, reused names overwrite"`
	Content string `json:"content" jsonschema:"required,description=Note content"`
}

func saveNoteTool() *Descriptor {
	return &Descriptor{
		Name:        "save_note",
		Description: "Save a named scratch note for this research job. Saving under an existing name replaces the content.",
		Category:    CategorySystem,
		InputSchema: inputSchema(&saveNoteArgs{}),
		Exec: func(_ context.Context, actx *agent.Context, raw json.RawMessage) (string, error) {
			var args saveNoteArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid save_note arguments: %w", err)
			}
			name := strings.TrimSpace(args.Name)
			if name == "" {
				return "", fmt.Errorf("save_note requires a name")
			}
			if strings.ContainsAny(name, "/\\") {
				return "", fmt.Errorf("note name must not contain path separators")
			}

			actx.SaveNote(name, args.Content)

			// Mirror to the job's workdir when one is configured.
			if wd := actx.Workdir(); wd != "" {
				dir := filepath.Join(wd, "notes")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return "", fmt.Errorf("creating notes dir: %w", err)
				}
				path := filepath.Join(dir, name+".md")
				if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
					return "", fmt.Errorf("writing note file: %w", err)
				}
			}

			return fmt.Sprintf("Saved note %q (%d chars).", name, len(args.Content)), nil
		},
	}
}

type listNotesArgs struct{}

func listNotesTool() *Descriptor {
	return &Descriptor{
		Name:        "list_notes",
		Description: "List the saved scratch notes with a short preview of each.",
		Category:    CategorySystem,
		InputSchema: inputSchema(&listNotesArgs{}),
		Exec: func(_ context.Context, actx *agent.Context, _ json.RawMessage) (string, error) {
			names := actx.Notes()
			if len(names) == 0 {
				return "No notes saved.", nil
			}

			var b strings.Builder
			b.WriteString("Saved notes:\n")
			for _, name := range names {
				content, _ := actx.Note(name)
				preview := strings.ReplaceAll(truncate(content, notePreviewLimit), "\n", " ")
				fmt.Fprintf(&b, "- %s (%d chars): %s\n", name, len(content), preview)
			}
			return b.String(), nil
		},
	}
}

// Package tools provides the tool registry and the built-in research tool
// set exposed to the agent loop.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/sondelab/sonde/pkg/agent"
)

// Category groups tools for listing.
type Category string

// Tool categories.
const (
	CategorySystem   Category = "system"
	CategoryResearch Category = "research"
)

// Descriptor declares one invokable tool: its LLM-facing definition, the
// engine-facing flags, and the executable body.
type Descriptor struct {
	Name        string
	Description string
	Category    Category

	// InputSchema is the JSON schema of the arguments object.
	InputSchema map[string]any

	// Terminal tools stay available when the iteration budget is spent.
	Terminal bool
	// Suspending marks the clarification tool.
	Suspending bool

	Exec func(ctx context.Context, actx *agent.Context, args json.RawMessage) (string, error)
}

// ExecHook observes every tool execution (instrumentation).
type ExecHook func(tool string, err error)

// registeredTool adapts a Descriptor to agent.Tool.
type registeredTool struct {
	d    *Descriptor
	hook ExecHook
}

func (t registeredTool) Definition() agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        t.d.Name,
		Description: t.d.Description,
		Parameters:  t.d.InputSchema,
	}
}

func (t registeredTool) Terminal() bool   { return t.d.Terminal }
func (t registeredTool) Suspending() bool { return t.d.Suspending }

func (t registeredTool) Execute(ctx context.Context, actx *agent.Context, args json.RawMessage) (string, error) {
	out, err := t.d.Exec(ctx, actx, args)
	if t.hook != nil {
		t.hook(t.d.Name, err)
	}
	return out, err
}

// Registry holds the available tools. Registration is idempotent; a later
// registration under the same name wins.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
	order []string
	hook  ExecHook
	log   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Descriptor),
		log:   slog.With("component", "tool_registry"),
	}
}

// SetExecHook installs the execution hook applied to tools resolved after
// the call.
func (r *Registry) SetExecHook(hook ExecHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// Register adds or replaces a tool.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		r.log.Debug("Replacing tool registration", "tool", d.Name)
	} else {
		r.order = append(r.order, d.Name)
	}
	r.tools[d.Name] = d
}

// Get returns a tool descriptor by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ListByCategory returns the descriptors of one category in registration
// order.
func (r *Registry) ListByCategory(cat Category) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Descriptor
	for _, name := range r.order {
		if d := r.tools[name]; d.Category == cat {
			out = append(out, d)
		}
	}
	return out
}

// Resolve maps tool names to engine-facing tools. Unknown names are logged
// and skipped.
func (r *Registry) Resolve(names []string) []agent.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.Tool, 0, len(names))
	for _, name := range names {
		d, ok := r.tools[name]
		if !ok {
			r.log.Warn("Unknown tool requested, skipping", "tool", name)
			continue
		}
		out = append(out, registeredTool{d: d, hook: r.hook})
	}
	return out
}

// All returns every registered tool in registration order.
func (r *Registry) All() []agent.Tool {
	return r.Resolve(r.Names())
}

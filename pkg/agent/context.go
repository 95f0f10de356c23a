package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sondelab/sonde/pkg/models"
)

// ErrNotAwaitingClarification is returned by ProvideClarification when the
// agent is not suspended on the clarification latch.
var ErrNotAwaitingClarification = errors.New("agent is not awaiting clarification")

// Context is the per-agent mutable state: counters, source table, search
// history, transcript, and the clarification latch. It is owned by one
// Engine; the only external write path is Engine.ProvideClarification.
type Context struct {
	mu sync.Mutex

	jobID   string
	workdir string

	iteration          int
	searchesUsed       int
	clarificationsUsed int

	sources      map[string]*models.Source // keyed by URL
	sourceOrder  []string                  // URLs in insertion order
	searches     []models.SearchResult
	conversation []ConversationMessage
	notes        map[string]string
	noteOrder    []string
	artifacts    []models.ArtifactRef

	state            State
	executionResult  string
	currentReasoning *Reasoning
	pendingQuestion  string

	// Clarification latch: non-nil while armed, closed on release.
	latch chan struct{}

	createdAt time.Time
}

// NewContext creates an agent context in the RESEARCHING state.
func NewContext(jobID, workdir string) *Context {
	return &Context{
		jobID:     jobID,
		workdir:   workdir,
		sources:   make(map[string]*models.Source),
		notes:     make(map[string]string),
		state:     StateResearching,
		createdAt: time.Now(),
	}
}

// JobID returns the owning job's identifier.
func (c *Context) JobID() string { return c.jobID }

// Workdir returns the per-job scratch directory ("" when none configured).
func (c *Context) Workdir() string { return c.workdir }

// State returns the current agent state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState transitions the agent state.
func (c *Context) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Iteration returns the current iteration count.
func (c *Context) Iteration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iteration
}

// BeginIteration increments and returns the iteration counter.
func (c *Context) BeginIteration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iteration++
	return c.iteration
}

// SearchesUsed returns the number of searches executed so far.
func (c *Context) SearchesUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchesUsed
}

// ClarificationsUsed returns the number of clarification rounds so far.
func (c *Context) ClarificationsUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clarificationsUsed
}

// AppendTurn appends one transcript turn.
func (c *Context) AppendTurn(msg ConversationMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversation = append(c.conversation, msg)
}

// Conversation returns a copy of the transcript.
func (c *Context) Conversation() []ConversationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]ConversationMessage, len(c.conversation))
	copy(msgs, c.conversation)
	return msgs
}

// InsertSource adds a source to the table. If the URL is already known, only
// full content and char count are updated; the number never changes. New
// URLs get the next dense number. Returns the stored source.
func (c *Context) InsertSource(src models.Source) models.Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sources[src.URL]; ok {
		if src.FullContent != "" {
			existing.FullContent = src.FullContent
			existing.CharCount = src.CharCount
		}
		if existing.Title == "" {
			existing.Title = src.Title
		}
		if existing.Snippet == "" {
			existing.Snippet = src.Snippet
		}
		return *existing
	}

	stored := src
	stored.Number = len(c.sourceOrder) + 1
	c.sources[src.URL] = &stored
	c.sourceOrder = append(c.sourceOrder, src.URL)
	return stored
}

// SourceCount returns the number of distinct sources collected.
func (c *Context) SourceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sourceOrder)
}

// Sources returns the collected sources in insertion (number) order.
func (c *Context) Sources() []models.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Source, 0, len(c.sourceOrder))
	for _, url := range c.sourceOrder {
		out = append(out, *c.sources[url])
	}
	return out
}

// RecordSearch appends a search result and increments searches_used.
func (c *Context) RecordSearch(result models.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches = append(c.searches, result)
	c.searchesUsed++
}

// Searches returns a copy of the executed searches.
func (c *Context) Searches() []models.SearchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SearchResult, len(c.searches))
	copy(out, c.searches)
	return out
}

// SaveNote stores a named scratch note, replacing any previous content.
func (c *Context) SaveNote(name, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.notes[name]; !ok {
		c.noteOrder = append(c.noteOrder, name)
	}
	c.notes[name] = content
}

// Notes returns note names in insertion order.
func (c *Context) Notes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.noteOrder))
	copy(names, c.noteOrder)
	return names
}

// Note returns a note's content by name.
func (c *Context) Note(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.notes[name]
	return content, ok
}

// AddArtifact records a produced artifact reference.
func (c *Context) AddArtifact(ref models.ArtifactRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts = append(c.artifacts, ref)
}

// Artifacts returns the recorded artifact references.
func (c *Context) Artifacts() []models.ArtifactRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ArtifactRef, len(c.artifacts))
	copy(out, c.artifacts)
	return out
}

// SetExecutionResult stores the final answer text.
func (c *Context) SetExecutionResult(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionResult = result
}

// ExecutionResult returns the final answer text ("" until set).
func (c *Context) ExecutionResult() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executionResult
}

// SetReasoning stores the current step's reasoning record.
func (c *Context) SetReasoning(r *Reasoning) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentReasoning = r
}

// Reasoning returns the most recent reasoning record (nil before the first
// Phase R).
func (c *Context) Reasoning() *Reasoning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentReasoning
}

// SetPendingQuestion stores the clarification question awaiting an answer.
func (c *Context) SetPendingQuestion(q string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingQuestion = q
}

// PendingQuestion returns the outstanding clarification question.
func (c *Context) PendingQuestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingQuestion
}

// ArmLatch prepares the single-shot clarification latch. Only the engine
// arms it, once per clarification round.
func (c *Context) ArmLatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latch = make(chan struct{})
}

// ReleaseLatch releases a previously armed latch. Returns false if the latch
// is not armed (already released or never armed).
func (c *Context) ReleaseLatch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latch == nil {
		return false
	}
	close(c.latch)
	c.latch = nil
	return true
}

// AwaitLatch blocks until the latch is released or the context is cancelled.
func (c *Context) AwaitLatch(ctx context.Context) error {
	c.mu.Lock()
	latch := c.latch
	c.mu.Unlock()
	if latch == nil {
		return nil // already released
	}
	select {
	case <-latch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProvideClarification delivers a user answer to a suspended agent. It
// performs exactly the writes the clarification contract allows: append a
// user turn, increment clarifications_used, restore RESEARCHING, and
// release the latch. Returns ErrNotAwaitingClarification if the agent is
// not suspended.
func (c *Context) ProvideClarification(turn ConversationMessage) error {
	c.mu.Lock()
	if c.state != StateWaitingForClarification || c.latch == nil {
		c.mu.Unlock()
		return ErrNotAwaitingClarification
	}
	c.conversation = append(c.conversation, turn)
	c.clarificationsUsed++
	c.pendingQuestion = ""
	c.state = StateResearching
	latch := c.latch
	c.latch = nil
	c.mu.Unlock()

	close(latch)
	return nil
}

// VerifyDenseNumbering checks the source-number invariant: numbers are
// exactly 1..N in insertion order. Used by tests.
func (c *Context) VerifyDenseNumbering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	numbers := make([]int, 0, len(c.sources))
	for _, src := range c.sources {
		numbers = append(numbers, src.Number)
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		if n != i+1 {
			return false
		}
	}
	return true
}

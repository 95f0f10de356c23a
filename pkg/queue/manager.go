// Package queue implements the in-memory job queue: submission, lifecycle
// transitions, priority scheduling, persistence snapshots, and the worker
// pool executing jobs.
package queue

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sondelab/sonde/pkg/agent"
	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/models"
)

// Submission validation bounds.
const (
	MinDeepLevel = 0
	MaxDeepLevel = 5
	MinPriority  = -100
	MaxPriority  = 100
	MaxTags      = 10

	// DefaultAgentType is used when a submission names none.
	DefaultAgentType = "sgr"

	defaultListLimit = 50
	maxListLimit     = 100
)

// StateEvent names a lifecycle notification delivered to state listeners.
type StateEvent string

// Lifecycle notifications.
const (
	EventSubmitted StateEvent = "submitted"
	EventStarted   StateEvent = "started"
	EventProgress  StateEvent = "progress"
	EventCompleted StateEvent = "completed"
	EventFailed    StateEvent = "failed"
	EventCancelled StateEvent = "cancelled"
)

// StateListener receives lifecycle notifications with a record snapshot.
// Listeners run synchronously on the mutating goroutine; panics are
// recovered and logged so one bad listener cannot take down a transition.
type StateListener func(event StateEvent, job *models.JobRecord)

// runtimeHandle holds the cooperative control points of a running job:
// the worker's context cancel and the executor's clarification receiver.
// cancelRequested covers the window between the claim and RegisterCancel;
// a cancel landing there is delivered at registration.
type runtimeHandle struct {
	cancel          func()
	clarifier       func(text string) error
	cancelRequested bool
}

// Manager owns all job records and the pending queue. One mutex guards
// every map and the heap; snapshots leave the lock before any callback or
// file write.
type Manager struct {
	cfg        *config.QueueConfig
	agentTypes map[string]bool
	persist    *Persistence

	mu      sync.Mutex
	jobs    map[string]*models.JobRecord
	pending pendingHeap
	handles map[string]*runtimeHandle

	listenerMu sync.RWMutex
	listeners  []StateListener

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	log *slog.Logger
}

// NewManager creates a manager. agentTypes is the set of valid agent_type
// values (from the configured profiles).
func NewManager(cfg *config.QueueConfig, agentTypes []string, persist *Persistence) *Manager {
	types := make(map[string]bool, len(agentTypes))
	for _, t := range agentTypes {
		types[t] = true
	}
	return &Manager{
		cfg:        cfg,
		agentTypes: types,
		persist:    persist,
		jobs:       make(map[string]*models.JobRecord),
		handles:    make(map[string]*runtimeHandle),
		stopCh:     make(chan struct{}),
		log:        slog.With("component", "queue_manager"),
	}
}

// AddStateListener registers a lifecycle listener. Call before Start.
func (m *Manager) AddStateListener(fn StateListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start recovers persisted records and launches the snapshot and cleanup
// workers.
func (m *Manager) Start() error {
	if err := m.recover(); err != nil {
		return err
	}

	m.wg.Add(2)
	go m.runSnapshots()
	go m.runCleanup()

	m.log.Info("Queue manager started",
		"tracked_jobs", m.TrackedCount(), "pending", m.PendingCount())
	return nil
}

// Stop halts the background workers and writes a final snapshot.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.snapshot()
	m.log.Info("Queue manager stopped")
}

// recover loads persisted records. Jobs that were RUNNING when the process
// died are demoted to PENDING and re-queued; their progress restarts.
func (m *Manager) recover() error {
	records, err := m.persist.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	demoted := 0
	for _, record := range records {
		if record.Status == models.JobStatusRunning {
			record.Status = models.JobStatusPending
			record.StartedAt = nil
			record.Progress = 0
			record.StepsCompleted = 0
			record.CurrentStep = ""
			demoted++
		}
		m.jobs[record.JobID] = record
		if record.Status == models.JobStatusPending {
			m.pending.push(&pendingItem{
				jobID:     record.JobID,
				priority:  record.Priority,
				createdAt: record.CreatedAt,
			})
		}
	}

	if len(records) > 0 {
		m.log.Info("Recovered persisted jobs",
			"total", len(records), "demoted_to_pending", demoted)
	}
	return nil
}

// Submit validates a request and enqueues a new PENDING job.
func (m *Manager) Submit(req *models.SubmitRequest) (*models.JobRecord, error) {
	agentType := req.AgentType
	if agentType == "" {
		agentType = DefaultAgentType
	}

	if strings.TrimSpace(req.Query) == "" {
		return nil, NewValidationError("query", "must not be empty")
	}
	if req.DeepLevel < MinDeepLevel || req.DeepLevel > MaxDeepLevel {
		return nil, NewValidationError("deep_level", "must be between %d and %d", MinDeepLevel, MaxDeepLevel)
	}
	if req.Priority < MinPriority || req.Priority > MaxPriority {
		return nil, NewValidationError("priority", "must be between %d and %d", MinPriority, MaxPriority)
	}
	if len(req.Tags) > MaxTags {
		return nil, NewValidationError("tags", "at most %d tags allowed", MaxTags)
	}
	if !m.agentTypes[agentType] {
		return nil, NewValidationError("agent_type", "unknown agent type %q", agentType)
	}

	record := &models.JobRecord{
		JobID:      uuid.New().String(),
		Query:      req.Query,
		AgentType:  agentType,
		DeepLevel:  req.DeepLevel,
		Priority:   req.Priority,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		Status:     models.JobStatusPending,
		CreatedAt:  time.Now(),
		TotalSteps: models.TotalSteps(req.DeepLevel),
	}

	m.mu.Lock()
	if len(m.jobs) >= m.cfg.MaxTrackedJobs {
		m.mu.Unlock()
		return nil, ErrQueueFull
	}
	m.jobs[record.JobID] = record
	m.pending.push(&pendingItem{
		jobID:     record.JobID,
		priority:  record.Priority,
		createdAt: record.CreatedAt,
	})
	snapshot := record.Clone()
	m.mu.Unlock()

	m.save(snapshot)
	m.notify(EventSubmitted, snapshot)
	m.log.Info("Job submitted",
		"job_id", record.JobID, "agent_type", agentType,
		"deep_level", req.DeepLevel, "priority", req.Priority)
	return snapshot, nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID string) (*models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return record.Clone(), nil
}

// List returns jobs matching the filter, newest first.
func (m *Manager) List(filter models.JobFilter) *models.JobListResult {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	m.mu.Lock()
	matched := make([]*models.JobRecord, 0, len(m.jobs))
	for _, record := range m.jobs {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(record, filter.Tags) {
			continue
		}
		matched = append(matched, record)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	page := make([]*models.JobRecord, 0, limit)
	for i := offset; i < total && len(page) < limit; i++ {
		page = append(page, matched[i].Clone())
	}
	m.mu.Unlock()

	return &models.JobListResult{
		Jobs:   page,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
}

func hasAnyTag(record *models.JobRecord, tags []string) bool {
	for _, tag := range tags {
		if record.HasTag(tag) {
			return true
		}
	}
	return false
}

// Cancel requests cancellation. PENDING jobs transition immediately;
// RUNNING jobs are signalled through their registered cancel and reach
// CANCELLED when the executor reports back. Returns false for jobs already
// terminal (idempotent).
func (m *Manager) Cancel(jobID string) (bool, error) {
	m.mu.Lock()
	record, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return false, ErrJobNotFound
	}

	switch record.Status {
	case models.JobStatusPending:
		now := time.Now()
		record.Status = models.JobStatusCancelled
		record.CompletedAt = &now
		snapshot := record.Clone()
		m.mu.Unlock()

		m.save(snapshot)
		m.notify(EventCancelled, snapshot)
		m.log.Info("Pending job cancelled", "job_id", jobID)
		return true, nil

	case models.JobStatusRunning:
		handle := m.handles[jobID]
		if handle == nil {
			handle = &runtimeHandle{}
			m.handles[jobID] = handle
		}
		handle.cancelRequested = true
		cancel := handle.cancel
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		m.log.Info("Cancellation signalled to running job", "job_id", jobID)
		return true, nil

	default:
		m.mu.Unlock()
		return false, nil
	}
}

// Next pops the highest-priority pending job and marks it RUNNING.
// Entries whose jobs were cancelled while queued are skipped. The
// concurrency limit is checked under the same lock as the claim, so
// concurrent callers can never push the RUNNING count past it.
func (m *Manager) Next() (*models.JobRecord, error) {
	m.mu.Lock()
	if m.runningLocked() >= m.cfg.MaxConcurrentJobs {
		m.mu.Unlock()
		return nil, ErrAtCapacity
	}

	var record *models.JobRecord
	for {
		item := m.pending.pop()
		if item == nil {
			m.mu.Unlock()
			return nil, ErrNoJobsAvailable
		}
		candidate, ok := m.jobs[item.jobID]
		if !ok || candidate.Status != models.JobStatusPending {
			continue
		}
		record = candidate
		break
	}

	now := time.Now()
	record.Status = models.JobStatusRunning
	record.StartedAt = &now
	snapshot := record.Clone()
	m.mu.Unlock()

	m.save(snapshot)
	m.notify(EventStarted, snapshot)
	return snapshot, nil
}

// MarkCompleted finishes a running job with its result. Progress becomes
// exactly 100 here and nowhere else.
func (m *Manager) MarkCompleted(jobID string, result *models.ResearchResult) error {
	return m.finish(jobID, func(record *models.JobRecord) StateEvent {
		record.Status = models.JobStatusCompleted
		record.Progress = 100
		record.StepsCompleted = record.TotalSteps
		record.CurrentStep = ""
		record.Result = result
		if result != nil {
			record.SearchesUsed = result.Metrics.SearchesUsed
			record.SourcesFound = result.Metrics.SourcesFound
		}
		return EventCompleted
	})
}

// MarkFailed finishes a running job with a typed error.
func (m *Manager) MarkFailed(jobID string, jobErr *models.JobError) error {
	return m.finish(jobID, func(record *models.JobRecord) StateEvent {
		record.Status = models.JobStatusFailed
		record.CurrentStep = ""
		record.Error = jobErr
		return EventFailed
	})
}

// MarkCancelled finishes a running job after cooperative cancellation.
// A no-op if the job is already terminal.
func (m *Manager) MarkCancelled(jobID string) error {
	m.mu.Lock()
	record, ok := m.jobs[jobID]
	if ok && record.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.finish(jobID, func(record *models.JobRecord) StateEvent {
		record.Status = models.JobStatusCancelled
		record.CurrentStep = ""
		return EventCancelled
	})
}

// finish applies a terminal mutation under the lock and fans out the
// snapshot.
func (m *Manager) finish(jobID string, mutate func(*models.JobRecord) StateEvent) error {
	m.mu.Lock()
	record, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}

	event := mutate(record)
	now := time.Now()
	record.CompletedAt = &now
	snapshot := record.Clone()
	m.mu.Unlock()

	m.save(snapshot)
	m.notify(event, snapshot)
	m.log.Info("Job finished", "job_id", jobID, "status", snapshot.Status)
	return nil
}

// UpdateProgress records a progress snapshot for a running job. Values are
// clamped below 100; exact 100 is reserved for completion.
func (m *Manager) UpdateProgress(jobID string, progress float64, step string, stepsCompleted, searchesUsed, sourcesFound int) error {
	m.mu.Lock()
	record, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if record.Status != models.JobStatusRunning {
		m.mu.Unlock()
		return nil
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 99.9 {
		progress = 99.9
	}
	record.Progress = progress
	record.CurrentStep = step
	record.StepsCompleted = stepsCompleted
	record.SearchesUsed = searchesUsed
	record.SourcesFound = sourcesFound
	snapshot := record.Clone()
	m.mu.Unlock()

	m.notify(EventProgress, snapshot)
	return nil
}

// RegisterCancel installs the context cancel of a claimed job. A cancel
// request that arrived before registration is delivered immediately.
func (m *Manager) RegisterCancel(jobID string, cancel func()) {
	m.mu.Lock()
	h := m.handles[jobID]
	if h == nil {
		h = &runtimeHandle{}
		m.handles[jobID] = h
	}
	h.cancel = cancel
	requested := h.cancelRequested
	m.mu.Unlock()

	if requested {
		cancel()
	}
}

// RegisterClarifier installs the clarification receiver of a running job.
func (m *Manager) RegisterClarifier(jobID string, fn func(text string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handles[jobID]
	if h == nil {
		h = &runtimeHandle{}
		m.handles[jobID] = h
	}
	h.clarifier = fn
}

// UnregisterRuntime drops a job's runtime handle when execution ends.
func (m *Manager) UnregisterRuntime(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, jobID)
}

// ProvideClarification routes a user answer to the engine of a suspended
// job. Jobs without a registered clarifier (not running, or not suspended)
// yield agent.ErrNotAwaitingClarification.
func (m *Manager) ProvideClarification(jobID, text string) error {
	m.mu.Lock()
	_, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	handle := m.handles[jobID]
	m.mu.Unlock()

	if handle == nil || handle.clarifier == nil {
		return agent.ErrNotAwaitingClarification
	}
	return handle.clarifier(text)
}

// --- Counters ---

// PendingCount returns the number of PENDING jobs.
func (m *Manager) PendingCount() int { return m.countStatus(models.JobStatusPending) }

// RunningCount returns the number of RUNNING jobs.
func (m *Manager) RunningCount() int { return m.countStatus(models.JobStatusRunning) }

// TrackedCount returns the number of jobs across all states.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *Manager) countStatus(status models.JobStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, record := range m.jobs {
		if record.Status == status {
			n++
		}
	}
	return n
}

// runningLocked counts RUNNING jobs. Callers hold m.mu.
func (m *Manager) runningLocked() int {
	n := 0
	for _, record := range m.jobs {
		if record.Status == models.JobStatusRunning {
			n++
		}
	}
	return n
}

// --- Background workers ---

func (m *Manager) runSnapshots() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.snapshot()
		}
	}
}

// snapshot writes every tracked record to disk.
func (m *Manager) snapshot() {
	m.mu.Lock()
	records := make([]*models.JobRecord, 0, len(m.jobs))
	for _, record := range m.jobs {
		records = append(records, record.Clone())
	}
	m.mu.Unlock()

	for _, record := range records {
		m.save(record)
	}
}

func (m *Manager) runCleanup() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup(time.Now())
		}
	}
}

// cleanup removes terminal records past the retention window, with their
// files.
func (m *Manager) cleanup(now time.Time) {
	cutoff := now.Add(-m.cfg.CompletedRetention)

	m.mu.Lock()
	var expired []string
	for id, record := range m.jobs {
		if record.Status.IsTerminal() && record.CompletedAt != nil && record.CompletedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.jobs, id)
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.persist.Delete(id); err != nil {
			m.log.Warn("Failed to remove expired job file", "job_id", id, "error", err)
		}
	}
	if len(expired) > 0 {
		m.log.Info("Cleaned up expired jobs", "count", len(expired))
	}
}

// --- Helpers ---

// save persists a snapshot. Persistence failures are logged, never
// surfaced: the in-memory record remains authoritative.
func (m *Manager) save(record *models.JobRecord) {
	if err := m.persist.Save(record); err != nil {
		m.log.Error("Failed to persist job", "job_id", record.JobID, "error", err)
	}
}

// notify runs every listener with its own clone, recovering panics.
func (m *Manager) notify(event StateEvent, record *models.JobRecord) {
	m.listenerMu.RLock()
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenerMu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					m.log.Error("State listener panicked",
						"event", event, "job_id", record.JobID, "panic", rec)
				}
			}()
			fn(event, record.Clone())
		}()
	}
}

package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sondelab/sonde/pkg/models"
)

// defaultBufferSize is the per-subscriber channel capacity.
const defaultBufferSize = 100

// Subscriber is one consumer of a job's event stream. Events arrive on a
// bounded channel; when the consumer falls behind, new events are dropped
// and counted rather than blocking the broadcaster.
type Subscriber struct {
	JobID string

	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Events returns the subscriber's receive channel. Closed on Unsubscribe.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Dropped returns the number of events lost to a full buffer.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broker fans events out to the subscribers of each job. Broadcast never
// blocks; delivery to any one subscriber is independent of the others.
type Broker struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscriber]struct{}
	bufferSize int
	dropHook   func(jobID string)
	log        *slog.Logger
}

// NewBroker creates a broker. bufferSize <= 0 selects the default.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker{
		subs:       make(map[string]map[*Subscriber]struct{}),
		bufferSize: bufferSize,
		log:        slog.With("component", "broker"),
	}
}

// OnDrop installs a hook invoked once per dropped event (metrics). Set
// during startup, before any Broadcast.
func (b *Broker) OnDrop(fn func(jobID string)) {
	b.dropHook = fn
}

// Subscribe registers a new consumer for a job and delivers a synthetic
// stream_connected event as its first message.
func (b *Broker) Subscribe(jobID string) *Subscriber {
	sub := &Subscriber{
		JobID: jobID,
		ch:    make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	// The buffer is empty here, so this never drops.
	sub.ch <- Event{
		Name: EventStreamConnected,
		Data: StreamConnectedPayload{
			Type:      EventStreamConnected,
			JobID:     jobID,
			Timestamp: timestamp(),
		},
	}
	return sub
}

// Unsubscribe removes a consumer and closes its channel. Safe to call more
// than once.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if set, ok := b.subs[sub.JobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.JobID)
		}
	}
	b.mu.Unlock()

	sub.close()
}

// Broadcast delivers an event to every subscriber of the job. Full buffers
// drop the event for that subscriber only.
func (b *Broker) Broadcast(jobID string, e Event) {
	b.mu.RLock()
	set := b.subs[jobID]
	subs := make([]*Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
			if b.dropHook != nil {
				b.dropHook(jobID)
			}
			b.log.Debug("Dropped event for slow subscriber",
				"job_id", jobID, "event", e.Name)
		}
	}
}

// SubscriberCount returns the number of active subscribers for a job.
func (b *Broker) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

// ActiveSubscribers returns the total subscriber count across all jobs.
func (b *Broker) ActiveSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, set := range b.subs {
		total += len(set)
	}
	return total
}

// --- Typed broadcast helpers ---

// JobStatus broadcasts the lifecycle event matching the record's status.
func (b *Broker) JobStatus(job *models.JobRecord) {
	name := StatusEventName(job.Status)
	b.Broadcast(job.JobID, Event{
		Name: name,
		Data: JobStatusPayload{
			Type:      name,
			JobID:     job.JobID,
			Status:    job.Status,
			Progress:  job.Progress,
			Timestamp: timestamp(),
		},
	})
}

// JobProgress broadcasts a transient progress snapshot.
func (b *Broker) JobProgress(job *models.JobRecord) {
	b.Broadcast(job.JobID, Event{
		Name: EventJobProgress,
		Data: JobProgressPayload{
			Type:           EventJobProgress,
			JobID:          job.JobID,
			Progress:       job.Progress,
			CurrentStep:    job.CurrentStep,
			StepsCompleted: job.StepsCompleted,
			TotalSteps:     job.TotalSteps,
			SearchesUsed:   job.SearchesUsed,
			SourcesFound:   job.SourcesFound,
			Timestamp:      timestamp(),
		},
	})
}

// JobError broadcasts the typed error of a failing job.
func (b *Broker) JobError(jobID string, jobErr *models.JobError) {
	b.Broadcast(jobID, Event{
		Name: EventJobError,
		Data: JobErrorPayload{
			Type:      EventJobError,
			JobID:     jobID,
			Kind:      jobErr.Kind,
			Message:   jobErr.Message,
			Timestamp: timestamp(),
		},
	})
}

// Chunk broadcasts one incremental output delta.
func (b *Broker) Chunk(jobID, delta string) {
	b.Broadcast(jobID, Event{
		Name: EventChunk,
		Data: ChunkPayload{
			Type:      EventChunk,
			JobID:     jobID,
			Delta:     delta,
			Timestamp: timestamp(),
		},
	})
}

// Keepalive returns a keepalive event for transports to send on idle
// connections.
func Keepalive() Event {
	return Event{
		Name: EventKeepalive,
		Data: KeepalivePayload{Type: EventKeepalive, Timestamp: timestamp()},
	}
}

package agent

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamDone signals that a sink reader has consumed the terminal
// sentinel and no further chunks will arrive.
var ErrStreamDone = errors.New("stream done")

// closedCh is returned by Reopened() when the sink is open — selecting on
// it never blocks.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Sink is the agent's ordered output buffer with broadcast semantics: every
// reader observes the full chunk sequence from the start, ending at the
// terminal sentinel set by Finish. A clarification suspension finishes the
// sink; the engine reopens it when the agent resumes, and readers that were
// parked at the sentinel continue with the post-clarification chunks.
type Sink struct {
	mu       sync.Mutex
	chunks   [][]byte
	finished bool
	final    string

	// notify is closed and replaced on every Push/Finish so blocked
	// readers wake up.
	notify chan struct{}
	// reopened is created by Finish and closed by Reopen, letting a
	// consumer distinguish "segment ended" from "stream ended".
	reopened chan struct{}
}

// NewSink creates an empty open sink.
func NewSink() *Sink {
	return &Sink{notify: make(chan struct{})}
}

// Push appends one chunk. Pushing to a finished sink is a no-op (the chunk
// is dropped); the engine only pushes while the sink is open.
func (s *Sink) Push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.chunks = append(s.chunks, chunk)
	s.wake()
}

// Finish appends the terminal sentinel with an optional final text. Safe to
// call more than once; later calls are ignored.
func (s *Sink) Finish(final string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if final != "" {
		s.chunks = append(s.chunks, []byte(final))
	}
	s.finished = true
	s.reopened = make(chan struct{})
	s.wake()
}

// Reopen re-arms a finished sink for the next output segment. Used by the
// engine when resuming after a clarification round.
func (s *Sink) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		return
	}
	s.finished = false
	if s.reopened != nil {
		close(s.reopened)
		s.reopened = nil
	}
}

// Reopened returns a channel closed when a finished sink is reopened. When
// the sink is open it returns an already-closed channel.
func (s *Sink) Reopened() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished || s.reopened == nil {
		return closedCh
	}
	return s.reopened
}

// Finished reports whether the sink holds the terminal sentinel.
func (s *Sink) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Len returns the number of buffered chunks.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// wake must be called with s.mu held.
func (s *Sink) wake() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// NewReader creates a reader positioned at the start of the sequence.
// Readers are independent; each observes every chunk.
func (s *Sink) NewReader() *SinkReader {
	return &SinkReader{sink: s}
}

// SinkReader iterates one sink's chunk sequence.
type SinkReader struct {
	sink *Sink
	pos  int
}

// Next returns the next chunk, blocking until one is available. It returns
// ErrStreamDone when the reader has drained a finished sink, and the
// context error if ctx is cancelled while waiting.
func (r *SinkReader) Next(ctx context.Context) ([]byte, error) {
	for {
		r.sink.mu.Lock()
		if r.pos < len(r.sink.chunks) {
			chunk := r.sink.chunks[r.pos]
			r.pos++
			r.sink.mu.Unlock()
			return chunk, nil
		}
		if r.sink.finished {
			r.sink.mu.Unlock()
			return nil, ErrStreamDone
		}
		notify := r.sink.notify
		r.sink.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Collect drains the remaining chunks of a finished (or finishing) sink.
// Used by tests and the forced-termination path.
func (r *SinkReader) Collect(ctx context.Context) ([][]byte, error) {
	var out [][]byte
	for {
		chunk, err := r.Next(ctx)
		if errors.Is(err, ErrStreamDone) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk)
	}
}

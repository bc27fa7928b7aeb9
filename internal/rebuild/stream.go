package rebuild

import "sync"

// EventType classifies progress events.
type EventType string

const (
	EventInfo    EventType = "info"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
	EventSkip    EventType = "skip"
)

// Event is one entry in a rebuild's progress stream.
type Event struct {
	Type    EventType
	Message string
	Current int
	Total   int
}

// Stream is the lazy, ordered, finite sequence of progress events produced
// by a single rebuild pass. It is not restartable; a new Start produces a
// new Stream. Safe for one consumer.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	closed bool
}

func newStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// emit appends an event. The queue is unbounded so the producing job never
// blocks on a slow or absent consumer.
func (s *Stream) emit(e Event) {
	s.mu.Lock()
	if !s.closed {
		s.events = append(s.events, e)
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// close marks end-of-stream. Events already queued remain consumable.
func (s *Stream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Next blocks until the next event is available. The second return is false
// after the final event has been consumed and the stream has ended.
func (s *Stream) Next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.events) == 0 && !s.closed {
		s.cond.Wait()
	}

	if len(s.events) == 0 {
		return Event{}, false
	}

	e := s.events[0]
	s.events = s.events[1:]
	return e, true
}

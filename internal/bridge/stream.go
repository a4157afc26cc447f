package bridge

import (
	"context"
	"slices"
	"sync"
)

// Stream is an ordered, unbounded event queue for one operation. Producers
// never block; a single pump goroutine hands events to the consumer in the
// order they were emitted.
type Stream[T any] struct {
	id     OperationID
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []Event[T]
	tasks  []TaskID
	closed bool

	notify chan struct{}
	out    chan Event[T]
	done   chan struct{}
}

// NewStream starts the pump. cancel is invoked by Cancel and may be nil.
func NewStream[T any](id OperationID, cancel context.CancelFunc) *Stream[T] {
	s := &Stream[T]{
		id:     id,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		out:    make(chan Event[T]),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Stream[T]) ID() OperationID { return s.id }

// Events is the single consumer side of the stream. It is closed after the
// terminal event, or after Close for multi-result streams.
func (s *Stream[T]) Events() <-chan Event[T] { return s.out }

// Done is closed once every queued event has been delivered.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Tasks returns the task handles announced so far.
func (s *Stream[T]) Tasks() []TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tasks)
}

// Closed reports whether the stream accepts no further events.
func (s *Stream[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream[T]) Started(tasks []TaskID) bool {
	return s.push(Event[T]{Kind: EventStarted, Tasks: tasks})
}

func (s *Stream[T]) Progress(p Progress) bool {
	return s.push(Event[T]{Kind: EventProgress, Progress: p, URL: p.URL})
}

// Emit queues a non-terminal event.
func (s *Stream[T]) Emit(ev Event[T]) bool {
	ev.Final = false
	return s.push(ev)
}

// Finish queues the terminal success event.
func (s *Stream[T]) Finish(result T) bool {
	return s.push(Event[T]{Kind: EventFinished, Result: result, Final: true})
}

// Fail queues the terminal failure event.
func (s *Stream[T]) Fail(err error) bool {
	return s.push(Event[T]{Kind: EventFailed, Err: err, Final: true})
}

// Cancel cancels the underlying tasks before returning, then terminates the
// stream with a cancellation event unless it already ended.
func (s *Stream[T]) Cancel() bool {
	if s.cancel != nil {
		s.cancel()
	}
	return s.push(Event[T]{Kind: EventCancelled, Err: ErrCancelled, Final: true})
}

// Close ends a multi-result stream without a terminal payload.
func (s *Stream[T]) Close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Stream[T]) push(ev Event[T]) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	ev.Operation = s.id
	if ev.Kind == EventStarted {
		s.tasks = append(s.tasks, ev.Tasks...)
	}
	s.queue = append(s.queue, ev)
	if ev.Final {
		s.closed = true
	}
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Stream[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Stream[T]) pump() {
	defer close(s.done)
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()
		for _, ev := range batch {
			s.out <- ev
		}
		if closed {
			return
		}
		<-s.notify
	}
}

// Drain discards the remaining events so the pump can exit.
func (s *Stream[T]) Drain() {
	for range s.out {
	}
}

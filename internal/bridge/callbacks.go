package bridge

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot is a one-shot completion callback.
type Slot[T any] struct {
	once  sync.Once
	fired atomic.Bool
	fn    func(T, error)
}

func NewSlot[T any](fn func(T, error)) *Slot[T] {
	return &Slot[T]{fn: fn}
}

// Fire invokes the callback the first time it is called and reports whether
// this call was the one that fired it.
func (s *Slot[T]) Fire(result T, err error) bool {
	fired := false
	s.once.Do(func() {
		fired = true
		s.fired.Store(true)
		if s.fn != nil {
			s.fn(result, err)
		}
	})
	return fired
}

func (s *Slot[T]) Fired() bool { return s.fired.Load() }

// Callbacks is the push-style view of a Stream. OnResult receives per-item
// outcomes of multi-result streams; OnComplete fires exactly once.
type Callbacks[T any] struct {
	OnStarted  func(tasks []TaskID)
	OnProgress func(Progress)
	OnResult   func(url string, result T, err error)
	OnComplete func(result T, err error)
}

// Subscribe drains s on its own goroutine and dispatches to cb. Progress is
// always delivered before completion.
func Subscribe[T any](s *Stream[T], cb Callbacks[T]) *Slot[T] {
	slot := NewSlot(cb.OnComplete)
	go func() {
		var zero T
		for ev := range s.Events() {
			if ev.Final {
				slot.Fire(ev.Result, ev.Err)
				continue
			}
			switch ev.Kind {
			case EventStarted:
				if cb.OnStarted != nil {
					cb.OnStarted(ev.Tasks)
				}
			case EventProgress:
				if cb.OnProgress != nil {
					cb.OnProgress(ev.Progress)
				}
			case EventFinished, EventFailed:
				if cb.OnResult != nil {
					cb.OnResult(ev.URL, ev.Result, ev.Err)
				}
			}
		}
		slot.Fire(zero, nil)
	}()
	return slot
}

// Await blocks until the terminal event of s. If ctx ends first, s is
// cancelled and ErrCancelled is returned.
func Await[T any](ctx context.Context, s *Stream[T]) (T, error) {
	var zero T
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return zero, nil
			}
			if ev.Final {
				return ev.Result, ev.Err
			}
		case <-ctx.Done():
			s.Cancel()
			go s.Drain()
			return zero, ErrCancelled
		}
	}
}

type Outcome[T any] struct {
	URL    string
	Result T
	Err    error
}

// Collect gathers the per-item outcomes of a multi-result stream in arrival order.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]Outcome[T], error) {
	var outcomes []Outcome[T]
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return outcomes, nil
			}
			if ev.Final {
				if ev.Err != nil {
					return outcomes, ev.Err
				}
				continue
			}
			if ev.Kind == EventFinished || ev.Kind == EventFailed {
				outcomes = append(outcomes, Outcome[T]{URL: ev.URL, Result: ev.Result, Err: ev.Err})
			}
		case <-ctx.Done():
			s.Cancel()
			go s.Drain()
			return outcomes, ErrCancelled
		}
	}
}

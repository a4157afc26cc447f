package bridge

import (
	"errors"

	"github.com/google/uuid"
)

var ErrCancelled = errors.New("operation cancelled")

// OperationID names one logical operation (a fragmented download, a batch).
type OperationID = uuid.UUID

// TaskID names one underlying request of an operation.
type TaskID = uuid.UUID

func NewOperationID() OperationID { return uuid.New() }

func NewTaskID() TaskID { return uuid.New() }

type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventFinished
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Progress is a snapshot taken on every chunk. Total is -1 when the size is unknown.
type Progress struct {
	URL         string
	Total       int64
	Transferred int64
	Chunk       int64
}

func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Transferred) / float64(p.Total)
}

// Event is one lifecycle notification of an operation. Final marks the
// terminal event; nothing is delivered after it.
type Event[T any] struct {
	Kind      EventKind
	Operation OperationID
	Tasks     []TaskID
	Progress  Progress
	URL       string
	Result    T
	Err       error
	Final     bool
}

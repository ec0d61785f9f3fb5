// Package tracing follows the windows the daemon loads and writes back.
package tracing

import "time"

// TaskKind tells a window load from a write-back.
type TaskKind int

// The kinds of task.
const (
	TaskRead TaskKind = iota
	TaskWrite
)

func (k TaskKind) String() string {
	if k == TaskWrite {
		return "write"
	}

	return "read"
}

// A Task is one window load or write-back.
type Task struct {
	ID          string
	Kind        TaskKind
	FlashOffset uint32
	Size        uint32
	StartTime   time.Time
	EndTime     time.Time
	Err         error
}

// TaskFilter selects the tasks a tracer cares about.
type TaskFilter func(t Task) bool

// KindFilter returns a filter accepting tasks of kind k.
func KindFilter(k TaskKind) TaskFilter {
	return func(t Task) bool {
		return t.Kind == k
	}
}

func acceptAll(Task) bool {
	return true
}

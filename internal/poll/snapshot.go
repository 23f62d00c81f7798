package poll

import "time"

// Status is the lifecycle of a cache line as seen by a consumer.
type Status int

const (
	// StatusIdle means the inputs are unresolved; no read is issued.
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	// StatusErrored keeps the last good value, if any, alongside the error.
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of a line at one point in time.
type Snapshot[T any] struct {
	Status    Status
	Value     T
	HasValue  bool
	Err       error
	UpdatedAt time.Time
	// Fetching is true while a read for the line is in flight.
	Fetching bool
}

// Ready reports whether the snapshot holds a fresh value.
func (s Snapshot[T]) Ready() bool {
	return s.Status == StatusReady
}

// Failure returns the last read error while the line is errored.
func (s Snapshot[T]) Failure() error {
	if s.Status != StatusErrored {
		return nil
	}
	return s.Err
}

// Get returns the value only when the line is ready.
func (s Snapshot[T]) Get() (T, bool) {
	if s.Status != StatusReady {
		var zero T
		return zero, false
	}
	return s.Value, true
}

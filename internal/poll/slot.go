package poll

import "context"

// Slot is one consumer's subscription to a cache line. Rebinding to a
// different key releases the previous line. Slot methods are loop-confined.
type Slot[T any] struct {
	loop *Loop
	ln   *line
}

func NewSlot[T any](loop *Loop) *Slot[T] {
	return &Slot[T]{loop: loop}
}

// Bind subscribes to the query's line. A disabled query leaves the slot idle.
func (s *Slot[T]) Bind(q Query[T]) {
	if !q.Enabled() {
		s.Release()
		return
	}
	key := q.Key()
	if s.ln != nil && s.ln.key == key {
		return
	}
	s.Release()

	fetch := q.Fetch
	s.ln = s.loop.acquire(key, q.Endpoint, q.Interval, q.Retry, func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		return v, err
	})
	s.loop.markDirty()
}

// Release drops the subscription and returns the slot to idle.
func (s *Slot[T]) Release() {
	if s.ln == nil {
		return
	}
	s.loop.releaseLine(s.ln)
	s.ln = nil
	s.loop.markDirty()
}

// Refetch forces a new read, superseding any read in flight.
func (s *Slot[T]) Refetch() {
	if s.ln == nil {
		return
	}
	s.loop.startFetch(s.ln, true)
}

// Key returns the bound key, or "" when idle.
func (s *Slot[T]) Key() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.key
}

// Snapshot returns the current state of the bound line.
func (s *Slot[T]) Snapshot() Snapshot[T] {
	if s.ln == nil {
		return Snapshot[T]{Status: StatusIdle}
	}
	ln := s.ln
	snap := Snapshot[T]{
		Status:    ln.status,
		HasValue:  ln.hasValue,
		Err:       ln.err,
		UpdatedAt: ln.updatedAt,
		Fetching:  ln.fetching,
	}
	if ln.hasValue {
		if v, ok := ln.value.(T); ok {
			snap.Value = v
		}
	}
	return snap
}

// Package history keeps the undo/redo timeline of a value.
package history

import "sync"

// DefaultLimit caps the number of undo steps kept.
const DefaultLimit = 50

// EventKind names the transition that produced an Event.
type EventKind int

const (
	EventSet EventKind = iota
	EventUndo
	EventRedo
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventSet:
		return "set"
	case EventUndo:
		return "undo"
	case EventRedo:
		return "redo"
	case EventReset:
		return "reset"
	}
	return "unknown"
}

// Event is delivered to subscribers after every transition. Seq counts
// transitions and is assigned under the store lock. Transitions made from
// different goroutines may reach a subscriber out of order; a subscriber
// that keeps derived state should drop events whose Seq is not newer than
// the last one it applied.
type Event[T any] struct {
	Kind    EventKind
	Present T
	Seq     uint64
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithLimit caps the past stack at n entries, dropping the oldest first. A
// non-positive n means unbounded.
func WithLimit[T any](n int) Option[T] {
	return func(s *Store[T]) { s.limit = n }
}

// WithEqual makes Set a no-op when the new value equals the present.
func WithEqual[T any](eq func(a, b T) bool) Option[T] {
	return func(s *Store[T]) { s.equal = eq }
}

// Store holds past, present and future values. It is safe for concurrent
// use; subscribers run on the caller's goroutine after the lock is released.
type Store[T any] struct {
	mu      sync.Mutex
	past    []T
	present T
	future  []T

	limit int
	equal func(a, b T) bool

	seq     uint64
	nextSub int
	subs    map[int]func(Event[T])
}

// New returns a store whose present is initial.
func New[T any](initial T, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		present: initial,
		limit:   DefaultLimit,
		subs:    make(map[int]func(Event[T])),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Present returns the current value.
func (s *Store[T]) Present() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present
}

// CanUndo reports whether Undo would change the present.
func (s *Store[T]) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.past) > 0
}

// CanRedo reports whether Redo would change the present.
func (s *Store[T]) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.future) > 0
}

// Set replaces the present. With checkpoint the previous present becomes a
// new undo step. Without it the change folds into the current step and the
// top of past stays that step's anchor; with an empty past the change is not
// undoable at all. Either way future is cleared.
func (s *Store[T]) Set(next T, checkpoint bool) {
	s.Update(func(T) T { return next }, checkpoint)
}

// Update is Set with a value derived from the present under the store lock.
// fn must not call back into the store.
func (s *Store[T]) Update(fn func(present T) T, checkpoint bool) {
	s.mu.Lock()
	next := fn(s.present)
	if s.equal != nil && s.equal(s.present, next) {
		s.mu.Unlock()
		return
	}
	if checkpoint {
		s.past = append(s.past, s.present)
		s.trim()
	}
	s.present = next
	s.future = nil
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.notify(Event[T]{Kind: EventSet, Present: next, Seq: seq})
}

// Undo steps back one entry. It reports false when there is nothing to undo.
func (s *Store[T]) Undo() bool {
	s.mu.Lock()
	if len(s.past) == 0 {
		s.mu.Unlock()
		return false
	}
	last := len(s.past) - 1
	s.future = append(s.future, s.present)
	s.present = s.past[last]
	s.past = s.past[:last]
	s.seq++
	ev := Event[T]{Kind: EventUndo, Present: s.present, Seq: s.seq}
	s.mu.Unlock()

	s.notify(ev)
	return true
}

// Redo steps forward one entry. It reports false when there is nothing to
// redo.
func (s *Store[T]) Redo() bool {
	s.mu.Lock()
	if len(s.future) == 0 {
		s.mu.Unlock()
		return false
	}
	last := len(s.future) - 1
	s.past = append(s.past, s.present)
	s.trim()
	s.present = s.future[last]
	s.future = s.future[:last]
	s.seq++
	ev := Event[T]{Kind: EventRedo, Present: s.present, Seq: s.seq}
	s.mu.Unlock()

	s.notify(ev)
	return true
}

// Reset installs present and forgets the whole timeline.
func (s *Store[T]) Reset(present T) {
	s.mu.Lock()
	s.past = nil
	s.future = nil
	s.present = present
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.notify(Event[T]{Kind: EventReset, Present: present, Seq: seq})
}

// Subscribe registers fn for every transition. The returned func removes it.
func (s *Store[T]) Subscribe(fn func(Event[T])) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// trim drops the oldest past entries beyond the limit. Callers hold mu.
func (s *Store[T]) trim() {
	if s.limit > 0 && len(s.past) > s.limit {
		s.past = append(s.past[:0:0], s.past[len(s.past)-s.limit:]...)
	}
}

func (s *Store[T]) notify(ev Event[T]) {
	s.mu.Lock()
	fns := make([]func(Event[T]), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

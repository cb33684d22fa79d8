// Package fanout distributes published values to any number of independent
// subscribers. Every subscriber owns a FIFO sink that advances on its own;
// the publisher never waits for a slow subscriber.
//
// Sinks are unbounded unless Options.Capacity is set. An unbounded sink whose
// owner stops calling Next keeps growing for as long as the hub lives: nothing
// is dropped and the publisher is never told. Draining (or closing) a sink is
// the subscriber's job.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Next once a sink has been unsubscribed, or
	// when its hub was closed without a specific reason.
	ErrClosed = errors.New("fanout: sink closed")
	// ErrSinkFull is reported by Publish when a bounded sink with the Reject
	// policy had no room for the value.
	ErrSinkFull = errors.New("fanout: sink full")
)

// Overflow selects what a bounded sink does with a value it has no room for.
type Overflow int

const (
	// DropOldest evicts the oldest queued value to make room.
	DropOldest Overflow = iota
	// DropNewest discards the incoming value.
	DropNewest
	// Reject discards the incoming value and makes Publish return ErrSinkFull.
	Reject
)

func (o Overflow) String() string {
	switch o {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("Overflow(%d)", int(o))
}

// Options configures the sinks created by a Hub. The zero value gives
// unbounded sinks.
type Options struct {
	Capacity int
	Overflow Overflow
}

// Hub is the registry of sinks.
type Hub[T any] struct {
	opts  Options
	clone func(T) T

	mu     sync.RWMutex
	sinks  []*Sink[T]
	closed bool
	err    error
}

// New creates a hub. clone, when non-nil, is applied once per sink so that
// subscribers never share mutable state.
func New[T any](opts Options, clone func(T) T) *Hub[T] {
	return &Hub[T]{opts: opts, clone: clone}
}

// Subscribe registers a new sink. Subscribing to a closed hub returns a sink
// that is already closed.
func (h *Hub[T]) Subscribe() *Sink[T] {
	s := &Sink[T]{
		hub:      h,
		capacity: h.opts.Capacity,
		overflow: h.opts.Overflow,
		ready:    make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.finish(h.err, false)
		return s
	}
	h.sinks = append(h.sinks, s)
	return s
}

// Unsubscribe removes s and discards whatever it still had queued.
func (h *Hub[T]) Unsubscribe(s *Sink[T]) {
	if s == nil {
		return
	}
	h.mu.Lock()
	for i, cur := range h.sinks {
		if cur == s {
			h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	s.finish(ErrClosed, true)
}

// Publish pushes a copy of v to every registered sink in registration order.
// It never blocks on a subscriber.
func (h *Hub[T]) Publish(v T) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	rejected := 0
	for _, s := range h.sinks {
		item := v
		if h.clone != nil {
			item = h.clone(v)
		}
		if !s.push(item) {
			rejected++
		}
	}
	if rejected > 0 {
		return fmt.Errorf("%w: %d of %d sinks rejected the value", ErrSinkFull, rejected, len(h.sinks))
	}
	return nil
}

// Len returns the number of registered sinks.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Close closes every sink with ErrClosed.
func (h *Hub[T]) Close() { h.CloseWithError(nil) }

// CloseWithError closes the hub. Sinks keep what they have queued; once a
// sink is drained its Next returns err (ErrClosed when err is nil).
func (h *Hub[T]) CloseWithError(err error) {
	if err == nil {
		err = ErrClosed
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.err = err
	sinks := h.sinks
	h.sinks = nil
	h.mu.Unlock()

	for _, s := range sinks {
		s.finish(err, false)
	}
}

// Sink is one subscriber's queue.
type Sink[T any] struct {
	hub      *Hub[T]
	capacity int
	overflow Overflow

	mu    sync.Mutex
	queue []T
	done  bool
	err   error

	ready     chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func (s *Sink[T]) push(v T) bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return true
	}
	if s.capacity > 0 && len(s.queue) >= s.capacity {
		switch s.overflow {
		case DropOldest:
			s.popLocked()
			s.dropped.Add(1)
		case DropNewest:
			s.mu.Unlock()
			s.dropped.Add(1)
			return true
		default:
			s.mu.Unlock()
			s.dropped.Add(1)
			return false
		}
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Sink[T]) popLocked() T {
	var zero T
	v := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return v
}

func (s *Sink[T]) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Sink[T]) finish(err error, discard bool) {
	s.mu.Lock()
	if !s.done {
		s.done = true
		s.err = err
	}
	if discard {
		s.queue = nil
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closedCh) })
}

// Next blocks until a value is queued and pops the oldest one. It returns
// ctx.Err() when ctx ends first, and the close reason once the sink is closed
// and drained.
func (s *Sink[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			v := s.popLocked()
			more := len(s.queue) > 0
			s.mu.Unlock()
			if more {
				// another waiter on the same sink may be parked
				s.signal()
			}
			return v, nil
		}
		if s.done {
			err := s.err
			s.mu.Unlock()
			return zero, err
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-s.closedCh:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// All yields values until ctx ends or the sink is closed and drained.
func (s *Sink[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := s.Next(ctx)
			if err != nil || !yield(v) {
				return
			}
		}
	}
}

// Len returns the number of queued values.
func (s *Sink[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns how many values a bounded sink has discarded.
func (s *Sink[T]) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes the sink from its hub.
func (s *Sink[T]) Close() { s.hub.Unsubscribe(s) }

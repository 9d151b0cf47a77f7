package thread

import "sync"

// Exchanger hands single values from arbitrary producer threads to one consumer (the control
// loop). At most one value is pending at any time: a producer holds the turn token until the
// consumer acknowledges the value, so Store returns only after the value was consumed.
type Exchanger[T any] struct {
	turn     chan struct{}
	slot     chan T
	consumed chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewExchanger creates an open Exchanger.
func NewExchanger[T any]() *Exchanger[T] {
	return &Exchanger[T]{
		turn:     make(chan struct{}, 1),
		slot:     make(chan T, 1),
		consumed: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Store publishes v and blocks until the consumer released it.
// Returns false if the exchanger was closed before v was consumed.
func (e *Exchanger[T]) Store(v T) bool {
	select {
	case e.turn <- struct{}{}:
	case <-e.done:
		return false
	}
	defer func() { <-e.turn }()

	select {
	case e.slot <- v:
	case <-e.done:
		return false
	}
	select {
	case <-e.consumed:
		return true
	case <-e.done:
		// The consumer may have taken v just before closing; drain so the slot is empty.
		select {
		case <-e.slot:
			return false
		default:
			return true
		}
	}
}

// Load takes the pending value, if any, without blocking. The consumer must call release once
// it finished processing the value; the producer stays blocked until then.
func (e *Exchanger[T]) Load() (v T, release func(), ok bool) {
	select {
	case v = <-e.slot:
		return v, e.release, true
	default:
		return v, nil, false
	}
}

func (e *Exchanger[T]) release() {
	select {
	case e.consumed <- struct{}{}:
	case <-e.done:
	}
}

// Close releases blocked and future producers. Safe to call more than once.
func (e *Exchanger[T]) Close() {
	e.once.Do(func() { close(e.done) })
}

// Package thread tracks the threads of the program under test: identity, call stacks and
// frozen/thawed state.
//
// Instrumented threads touch only their own Record and the two hand-off slots (add, remove).
// The control loop is the only consumer of the hand-offs and the only goroutine that mutates the
// record table; it also thaws threads. Freezing every other thread at a strong stop point is
// the one cross-thread action taken by an instrumented thread, serialized by a SpinLock.
package thread

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Tracker owns the record table of one run.
type Tracker struct {
	ids    sync.Map // native id -> counted id
	nextID atomic.Uint64

	current sync.Map // native id -> *Record, written by the owning thread

	lock    SpinLock
	records []*Record // indexed by counted id

	adds    *Exchanger[*Record]
	removes *Exchanger[*Record]

	openSuspender SuspenderFunc
	closed        atomic.Bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSuspenders replaces the in-process Gate suspenders.
func WithSuspenders(fn SuspenderFunc) Option {
	return func(t *Tracker) { t.openSuspender = fn }
}

// NewTracker creates an empty tracker. Counted ids start at 1.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		adds:    NewExchanger[*Record](),
		removes: NewExchanger[*Record](),
		records: make([]*Record, 0, 64),
	}
	t.openSuspender = func(uint64) (Suspender, error) { return NewGate(&t.closed), nil }
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CountedID returns the sequential id of a native thread, assigning the next one on first sight.
// The id stays the same for the lifetime of the tracker.
func (t *Tracker) CountedID(nativeID uint64) uint64 {
	if id, ok := t.ids.Load(nativeID); ok {
		return id.(uint64)
	}
	// Only the thread itself asks for its own id, so LoadOrStore never loses a race here.
	id, _ := t.ids.LoadOrStore(nativeID, t.nextID.Add(1))
	return id.(uint64)
}

// NewRecord creates a record for the calling native thread. If its suspender cannot be opened,
// the record is returned invalid and the failure is logged.
func (t *Tracker) NewRecord(nativeID uint64) *Record {
	counted := t.CountedID(nativeID)
	s, err := t.openSuspender(nativeID)
	if err != nil {
		logrus.Warnf("thread %d (native %d): cannot open suspender, it will not be scheduled: %v", counted, nativeID, err)
		s = nil
	}
	return NewRecord(counted, nativeID, s)
}

// Current returns the registered record of the native thread, or nil.
func (t *Tracker) Current(nativeID uint64) *Record {
	if r, ok := t.current.Load(nativeID); ok {
		return r.(*Record)
	}
	return nil
}

// Register hands the record to the control loop and waits until it is in the table.
// Returns false if the tracker was shut down first.
func (t *Tracker) Register(r *Record) bool {
	if !t.adds.Store(r) {
		return false
	}
	t.current.Store(r.NativeID, r)
	return true
}

// Deregister hands the record to the control loop for removal and waits for it.
// The record is forgotten by Current in any case.
func (t *Tracker) Deregister(r *Record) bool {
	r.departing.Store(true)
	t.current.Delete(r.NativeID)
	return t.removes.Store(r)
}

// Poll consumes pending hand-offs. Control loop only.
func (t *Tracker) Poll() (added, removed bool) {
	if r, release, ok := t.adds.Load(); ok {
		t.lock.Lock()
		for uint64(len(t.records)) <= r.CountedID {
			t.records = append(t.records, nil)
		}
		t.records[r.CountedID] = r
		t.lock.Unlock()
		release()
		added = true
	}
	if r, release, ok := t.removes.Load(); ok {
		t.lock.Lock()
		if r.Frozen() {
			if err := r.Thaw(); err != nil {
				logrus.Debugf("thaw departing thread %d: %v", r.CountedID, err)
			}
		}
		if r.CountedID < uint64(len(t.records)) && t.records[r.CountedID] == r {
			t.records[r.CountedID] = nil
		}
		t.lock.Unlock()
		release()
		removed = true
	}
	return added, removed
}

// ForEachFrozen visits the frozen valid records in counted-id order. A record flagged frozen
// whose suspension has not taken hold yet is skipped until it has, and departing records are
// skipped. Control loop only.
func (t *Tracker) ForEachFrozen(visit func(*Record)) {
	for _, r := range t.records {
		if schedulable(r) {
			visit(r)
		}
	}
}

func schedulable(r *Record) bool {
	return r != nil && r.Valid() && !r.Departing() && r.Frozen() && r.Suspended()
}

// Frozen returns the frozen valid records in counted-id order. Control loop only.
func (t *Tracker) Frozen() []*Record {
	var out []*Record
	t.ForEachFrozen(func(r *Record) { out = append(out, r) })
	return out
}

// AnyFrozen reports whether at least one valid record is frozen. Control loop only.
func (t *Tracker) AnyFrozen() bool {
	for _, r := range t.records {
		if schedulable(r) {
			return true
		}
	}
	return false
}

// FreezeOthers freezes every tracked thread except self and departing ones. Called by an instrumented thread at a
// strong stop point; the spin lock keeps the iteration consistent with concurrent table updates
// and with other threads doing the same.
func (t *Tracker) FreezeOthers(self *Record, immediate bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, r := range t.records {
		if r == nil || r == self || !r.Valid() || r.Departing() {
			continue
		}
		if err := r.Freeze(immediate, self.NativeID); err != nil {
			logrus.Debugf("freeze thread %d: %v", r.CountedID, err)
		}
	}
}

// Shutdown thaws every frozen thread, releases parked threads and pending hand-offs.
// Afterwards no thread can be suspended through this tracker. Control loop only.
func (t *Tracker) Shutdown() {
	t.closed.Store(true)
	t.adds.Close()
	t.removes.Close()

	t.lock.Lock()
	defer t.lock.Unlock()
	for _, r := range t.records {
		if r == nil || !r.Valid() {
			continue
		}
		if r.Frozen() {
			if err := r.Thaw(); err != nil {
				logrus.Debugf("thaw thread %d: %v", r.CountedID, err)
			}
		}
		if g, ok := r.suspender.(interface{ Release() }); ok {
			g.Release()
		}
	}
}

// Closed reports whether Shutdown was called.
func (t *Tracker) Closed() bool { return t.closed.Load() }

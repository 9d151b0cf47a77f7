package thread

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/interleave-sct/interleave/sct/ident"
)

// ErrNoSuspender is returned when freezing or thawing a record whose suspender could not be opened.
var ErrNoSuspender = errors.New("thread has no suspender")

// Frame is one call-stack entry with the arguments captured on entry.
type Frame struct {
	Method ident.Method
	Args   []any
}

// Record tracks one monitored thread.
//
// The call stack is pushed and popped only by the owning thread. Other threads read the
// innermost frame through Current, which is published atomically on every push and pop.
type Record struct {
	CountedID uint64
	NativeID  uint64

	suspender Suspender
	frozen    atomic.Bool
	marked    atomic.Bool
	departing atomic.Bool

	stack []ident.Method
	args  [][]any
	top   atomic.Pointer[Frame]
}

// NewRecord creates a record with an empty call stack. A nil suspender yields an invalid
// record: it keeps its call stack but is never frozen.
func NewRecord(countedID, nativeID uint64, s Suspender) *Record {
	return &Record{CountedID: countedID, NativeID: nativeID, suspender: s}
}

// Valid reports whether the record can be frozen and thawed.
func (r *Record) Valid() bool { return r.suspender != nil }

// Frozen reports whether the record is (or is about to be) suspended.
func (r *Record) Frozen() bool { return r.frozen.Load() }

// Suspended reports whether the suspender currently holds the thread. Suspenders that
// cannot tell report true for a valid record.
func (r *Record) Suspended() bool {
	if s, ok := r.suspender.(interface{ Suspended() bool }); ok {
		return s.Suspended()
	}
	return r.suspender != nil
}

// Departing reports whether the thread has left its last frame and awaits removal.
// A departing thread is never frozen or offered to a driver.
func (r *Record) Departing() bool { return r.departing.Load() }

// Marked reports whether a deferred suspension is pending.
func (r *Record) Marked() bool { return r.marked.Load() }

// Push enters a frame. Owner thread only.
func (r *Record) Push(m ident.Method, args []any) {
	r.stack = append(r.stack, m)
	r.args = append(r.args, args)
	r.top.Store(&Frame{Method: m, Args: args})
}

// Pop leaves the innermost frame and returns the new depth. Owner thread only.
func (r *Record) Pop() int {
	n := len(r.stack)
	if n == 0 {
		return 0
	}
	r.stack[n-1] = nil
	r.args[n-1] = nil
	r.stack = r.stack[:n-1]
	r.args = r.args[:n-1]
	if n == 1 {
		r.top.Store(nil)
	} else {
		r.top.Store(&Frame{Method: r.stack[n-2], Args: r.args[n-2]})
	}
	return n - 1
}

// CallStack returns the call stack, outermost first. Owner thread only; the slice must not
// be retained past the next Push or Pop.
func (r *Record) CallStack() []ident.Method { return r.stack }

// Current returns the innermost frame. Safe from any thread.
func (r *Record) Current() (Frame, bool) {
	f := r.top.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// CurrentMethodName returns the display name of the innermost frame, or "" when the stack is empty.
func (r *Record) CurrentMethodName() string {
	if f, ok := r.Current(); ok {
		return f.Method.DisplayName()
	}
	return ""
}

// Freeze suspends the thread. caller is the native id of the calling thread.
//
// A thread never suspends another thread directly unless immediate is set: without it the
// target is only marked and freezes itself at its next hook. When the caller is the target,
// it parks before returning. A target already frozen by someone else still parks when it is
// the caller, so a concurrent freeze-all cannot leave it running.
func (r *Record) Freeze(immediate bool, caller uint64) error {
	if r.suspender == nil {
		return ErrNoSuspender
	}
	self := caller == r.NativeID
	if r.frozen.Load() {
		if self {
			r.suspender.Checkpoint()
		}
		return nil
	}
	if !immediate && !self {
		r.marked.Store(true)
		return nil
	}
	r.frozen.Store(true)
	if err := r.suspender.Suspend(self); err != nil {
		r.frozen.Store(false)
		return fmt.Errorf("suspend thread %d: %w", r.CountedID, err)
	}
	return nil
}

// Thaw resumes the thread, looping until the suspend count says it is running again.
// A thread flagged frozen but not yet suspended stays flagged; the caller retries later.
//
// Flags are cleared before the last resume: once resumed, the thread may freeze itself again
// right away and that new freeze must not be overwritten.
func (r *Record) Thaw() error {
	if r.suspender == nil {
		return ErrNoSuspender
	}
	r.marked.Store(false)
	r.frozen.Store(false)
	prev, err := r.suspender.Resume()
	if err != nil {
		r.frozen.Store(true)
		return fmt.Errorf("resume thread %d: %w", r.CountedID, err)
	}
	if prev == 0 {
		r.frozen.Store(true)
		return nil
	}
	for prev > 1 {
		if prev, err = r.suspender.Resume(); err != nil {
			return fmt.Errorf("resume thread %d: %w", r.CountedID, err)
		}
	}
	return nil
}

// Checkpoint parks the owning thread while it is suspended. Owner thread only.
func (r *Record) Checkpoint() {
	if r.suspender != nil {
		r.suspender.Checkpoint()
	}
}

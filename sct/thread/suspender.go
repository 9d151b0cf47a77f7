package thread

import (
	"sync"
	"sync/atomic"
)

// Suspender suspends and resumes one thread, OS-style: suspensions are counted and the thread
// runs only while the count is zero.
type Suspender interface {
	// Suspend raises the suspend count. When self is true the caller is the suspended thread
	// and Suspend blocks until the count drops back to zero.
	Suspend(self bool) error
	// Resume lowers the suspend count and returns the count before the call.
	// A previous count of zero means the thread was not suspended.
	Resume() (int, error)
	// Checkpoint is called by the owning thread at every hook; it blocks while the count is
	// non-zero. Suspenders backed by real OS suspension may make this a no-op.
	Checkpoint()
}

// SuspenderFunc opens a Suspender for the thread with the given native id.
type SuspenderFunc func(nativeID uint64) (Suspender, error)

// Gate is the in-process Suspender. Cross-thread suspension takes effect when the target
// reaches its next Checkpoint, which the session calls on every method entry and leave.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	closed *atomic.Bool
}

// NewGate creates a running Gate. When closed is set, parked threads are released and
// further suspensions never block.
func NewGate(closed *atomic.Bool) *Gate {
	if closed == nil {
		closed = new(atomic.Bool)
	}
	g := &Gate{closed: closed}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *Gate) Suspend(self bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	if self {
		g.waitLocked()
	}
	return nil
}

func (g *Gate) Resume() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.count
	if g.count > 0 {
		g.count--
		if g.count == 0 {
			g.cond.Broadcast()
		}
	}
	return prev, nil
}

func (g *Gate) Checkpoint() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waitLocked()
}

// Release wakes parked threads so they can observe a closed flag.
func (g *Gate) Release() {
	g.mu.Lock()
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Suspended reports whether the suspend count is non-zero.
func (g *Gate) Suspended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count > 0
}

func (g *Gate) waitLocked() {
	for g.count > 0 && !g.closed.Load() {
		g.cond.Wait()
	}
}

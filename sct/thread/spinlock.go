package thread

import (
	"runtime"
	"sync/atomic"
)

const maxSpinBackoff = 64

// SpinLock is a test-and-test-and-set lock with exponential back-off.
// It guards short critical sections shared by instrumented threads and the control loop,
// where parking on a mutex would let the scheduler run other threads mid-section.
// The zero value is unlocked.
type SpinLock struct {
	locked atomic.Bool
}

// Lock spins until the lock is acquired.
func (l *SpinLock) Lock() {
	backoff := 1
	for {
		if !l.locked.Swap(true) {
			return
		}
		for l.locked.Load() {
			for i := 0; i < backoff; i++ {
				pause()
			}
			if backoff < maxSpinBackoff {
				backoff <<= 1
			} else {
				runtime.Gosched()
			}
		}
	}
}

// Unlock releases the lock.
func (l *SpinLock) Unlock() {
	l.locked.Store(false)
}

// pause burns a few cycles without touching shared memory.
//
//go:noinline
func pause() {}

package sct

import (
	"runtime"
	"time"
)

// newSettle returns how the control loop waits for thawed threads to reach their next stop
// point: sleep above 25ms, yield in a loop above 50µs, spin for shorter positive durations,
// yield once for zero and return at once when negative.
func newSettle(d time.Duration) func() {
	switch {
	case d > 25*time.Millisecond:
		return func() { time.Sleep(d) }
	case d > 50*time.Microsecond:
		return func() {
			deadline := time.Now().Add(d)
			for time.Now().Before(deadline) {
				runtime.Gosched()
			}
		}
	case d > 0:
		return func() {
			deadline := time.Now().Add(d)
			for time.Now().Before(deadline) {
			}
		}
	case d == 0:
		return runtime.Gosched
	default:
		return func() {}
	}
}

package thread

import "github.com/petermattis/goid"

// GoroutineID returns the id of the calling goroutine.
// In-process transports use it as the native thread id passed to the session hooks.
func GoroutineID() uint64 {
	return uint64(goid.Get())
}

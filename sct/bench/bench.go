// Package bench holds small concurrent programs with known schedule-dependent bugs.
// They call the scheduler hooks the way an instrumentation transport would, so every
// driver can be exercised end to end without an external target process.
package bench

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/interleave-sct/interleave/sct/ident"
)

// ErrAssertion is returned by a run whose schedule exposed the bug.
var ErrAssertion = errors.New("assertion violation")

// Hooks receives method boundaries. *sct.Session implements it.
type Hooks interface {
	Enter(m ident.Method, args ...any)
	Leave(m ident.Method)
}

// NopHooks runs a program without scheduling control.
type NopHooks struct{}

func (NopHooks) Enter(ident.Method, ...any) {}
func (NopHooks) Leave(ident.Method)         {}

// Benchmark describes one program.
type Benchmark struct {
	Name        string
	Concurrency int      // threads including the entry thread
	EntryPoint  string   // frame matcher of the method bracketing the run
	WeakPoints  []string // suggested stop points
	Run         func(h Hooks) error
}

var registry = map[string]Benchmark{}

func register(b Benchmark) { registry[b.Name] = b }

// Lookup returns the named benchmark.
func Lookup(name string) (Benchmark, bool) {
	b, ok := registry[name]
	return b, ok
}

// Names lists the benchmarks in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// expect fails the run when cond is false.
func expect(cond bool, msg string) error {
	if !cond {
		return fmt.Errorf("%s: %w", msg, ErrAssertion)
	}
	return nil
}

// workers starts goroutines one at a time: each is tracked by the hooks before the next
// starts, so thread ids follow start order in every run.
type workers struct {
	h     Hooks
	group errgroup.Group
}

func (w *workers) run(m ident.Method, body func() error) {
	started := make(chan struct{})
	w.group.Go(func() error {
		w.h.Enter(m)
		close(started)
		defer w.h.Leave(m)
		return body()
	})
	<-started
}

func (w *workers) wait() error { return w.group.Wait() }

// lock is a mutex whose acquire and release are monitored methods.
type lock struct {
	h       Hooks
	sem     chan struct{}
	wait    ident.Method
	release ident.Method
}

func newLock(h Hooks, class string) *lock {
	return &lock{
		h:       h,
		sem:     make(chan struct{}, 1),
		wait:    ident.NewFunc(class, "Wait"),
		release: ident.NewFunc(class, "Release"),
	}
}

func (l *lock) Wait() {
	l.h.Enter(l.wait)
	l.sem <- struct{}{}
	l.h.Leave(l.wait)
}

func (l *lock) Release() {
	l.h.Enter(l.release)
	<-l.sem
	l.h.Leave(l.release)
}

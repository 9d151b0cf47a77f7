// Package sct is the preemption controller of the interleave scheduler.
//
// A Session receives the method entry and leave hooks of the program under test. Between
// entering and leaving the configured entry point it tracks every thread that calls a hook,
// freezes threads at stop points and runs a control loop that asks a driver which frozen
// threads to resume. The decisions form the run's trace, stored for later runs.
package sct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/interleave-sct/interleave/sct/driver"
	"github.com/interleave-sct/interleave/sct/ident"
	"github.com/interleave-sct/interleave/sct/stoppoint"
	"github.com/interleave-sct/interleave/sct/store"
	"github.com/interleave-sct/interleave/sct/thread"
	"github.com/interleave-sct/interleave/sct/trace"
	"github.com/interleave-sct/interleave/sct/tree"
)

// shutdownGrace lets threads thawed by the last decision run before the final sweep.
const shutdownGrace = 20 * time.Millisecond

// ErrAlreadyUsed is returned by Start when the session's window has been opened before.
var ErrAlreadyUsed = errors.New("session already started")

// Session is one scheduling window over a monitored program.
type Session struct {
	id  string
	log *logrus.Entry

	entry     *stoppoint.FrameMatcher
	weak      stoppoint.StopPoints
	strong    stoppoint.StopPoints
	immediate bool
	budget    *PreemptionBudget

	driver     driver.Driver
	driverName string
	store      *store.Store
	traceFile  string
	settle     func()

	tracker *thread.Tracker
	exit    func(code int)

	started atomic.Bool
	enabled atomic.Bool
	group   errgroup.Group
	result  atomic.Pointer[trace.RunTrace]
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	driver      driver.Driver
	exit        func(int)
	trackerOpts []thread.Option
	logger      logrus.FieldLogger
}

// WithDriver replaces the configured driver.
func WithDriver(d driver.Driver) Option {
	return func(o *sessionOptions) { o.driver = d }
}

// WithExit replaces os.Exit for the terminate overflow policy.
func WithExit(fn func(code int)) Option {
	return func(o *sessionOptions) { o.exit = fn }
}

// WithTrackerOptions passes options to the session's thread tracker.
func WithTrackerOptions(opts ...thread.Option) Option {
	return func(o *sessionOptions) { o.trackerOpts = append(o.trackerOpts, opts...) }
}

// WithLogger sets the logger the session's entry derives from.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// NewSession defaults and validates a copy of cfg, opens the data file and creates the driver.
// Configuration errors, including an exhausted search space, are returned before any
// thread can be frozen.
func NewSession(cfg *Config, opts ...Option) (*Session, error) {
	o := sessionOptions{exit: os.Exit, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	c := *cfg
	cfg = &c
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()[:8]
	s := &Session{
		id:        id,
		log:       o.logger.WithField("session", id),
		immediate: cfg.StopImmediate(),
		traceFile: cfg.TraceFile,
		tracker:   thread.NewTracker(o.trackerOpts...),
		exit:      o.exit,
	}

	var err error
	if s.entry, err = stoppoint.ParseFrame(cfg.EntryPoint); err != nil {
		return nil, fmt.Errorf("entry_point: %w", err)
	}
	if s.weak, err = stoppoint.ParseAll(cfg.WeakPoints); err != nil {
		return nil, fmt.Errorf("weak_points: %w", err)
	}
	if s.strong, err = stoppoint.ParseAll(cfg.StrongPoints); err != nil {
		return nil, fmt.Errorf("strong_points: %w", err)
	}
	overflow, err := ParseOverflow(cfg.PreemptionOverflow)
	if err != nil {
		return nil, err
	}
	s.budget = NewPreemptionBudget(cfg.Bound(), overflow)
	settle, err := cfg.ThawSettleDuration()
	if err != nil {
		return nil, err
	}
	s.settle = newSettle(settle)

	spec, err := driver.ParseSpec(cfg.Driver)
	if err != nil {
		return nil, err
	}
	s.driverName = string(spec.Kind)

	if cfg.DataFile != "" {
		if s.store, err = store.Open(cfg.DataFile); err != nil {
			return nil, err
		}
	}

	s.driver = o.driver
	if s.driver == nil {
		if s.driver, err = newDriver(cfg, spec, s.store, s.log); err != nil {
			s.closeStore()
			return nil, err
		}
	}
	s.log.Debugf("session ready: driver=%s entry=%q weak=%d strong=%d bound=%d overflow=%s immediate=%v",
		cfg.Driver, cfg.EntryPoint, len(s.weak), len(s.strong), s.budget.Max, overflow, s.immediate)
	return s, nil
}

func newDriver(cfg *Config, spec driver.Spec, st *store.Store, log logrus.FieldLogger) (driver.Driver, error) {
	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	rng := NewPartitionedRNG(seed)
	log.Infof("seed: %d", seed)

	pruner, err := tree.NewPruner(cfg.Pruner, rng.ForSubsystem(SubsystemPruner))
	if err != nil {
		return nil, err
	}
	p := driver.Params{
		Spec:        spec,
		Pruner:      pruner,
		SearchRNG:   rng.ForSubsystem(SubsystemSearch),
		FuzzSeed:    rng.SeedFor(SubsystemFuzzing),
		PursueIndex: cfg.PursueIndex,
	}
	if st != nil {
		p.Source = st
	}
	return driver.New(p)
}

// ID returns the short session id used in logs.
func (s *Session) ID() string { return s.id }

// Budget returns the session's preemption budget.
func (s *Session) Budget() *PreemptionBudget { return s.budget }

// Tracker returns the session's thread tracker.
func (s *Session) Tracker() *thread.Tracker { return s.tracker }

// Enabled reports whether the scheduling window is open.
func (s *Session) Enabled() bool { return s.enabled.Load() }

// IsEntryPoint reports whether m opens and closes the scheduling window.
func (s *Session) IsEntryPoint(m ident.Method) bool { return s.entry.Match(m) }

// RunTrace returns the trace of the finished window, or nil while it is open.
func (s *Session) RunTrace() *trace.RunTrace { return s.result.Load() }

// Enter is MethodEntry for the calling goroutine.
func (s *Session) Enter(m ident.Method, args ...any) {
	s.MethodEntry(m, thread.GoroutineID(), args)
}

// Leave is MethodLeave for the calling goroutine.
func (s *Session) Leave(m ident.Method) {
	s.MethodLeave(m, thread.GoroutineID())
}

// MethodEntry is the method-entry hook. threadID is the transport's native thread id.
func (s *Session) MethodEntry(m ident.Method, threadID uint64, args []any) {
	if !s.enabled.Load() {
		if !s.entry.Match(m) {
			return
		}
		if err := s.start(); err != nil && !s.enabled.Load() {
			return
		}
	}

	r := s.tracker.Current(threadID)
	if r == nil {
		r = s.tracker.NewRecord(threadID)
		r.Push(m, args)
		if !s.tracker.Register(r) {
			return
		}
	} else {
		r.Checkpoint()
		r.Push(m, args)
	}
	s.preempt(r, threadID)
}

// MethodLeave is the method-leave hook.
func (s *Session) MethodLeave(m ident.Method, threadID uint64) {
	if !s.enabled.Load() {
		return
	}
	if r := s.tracker.Current(threadID); r != nil {
		r.Checkpoint()
		if r.Marked() {
			preemptionsTotal.WithLabelValues("marked").Inc()
			if err := r.Freeze(s.immediate, threadID); err != nil {
				s.log.Debugf("freeze on leave: %v", err)
			}
		}
		if r.Pop() == 0 {
			s.tracker.Deregister(r)
		}
	}
	if s.entry.Match(m) {
		s.stop()
	}
}

// preempt freezes at stop points while the budget lasts. Strong points freeze every other
// thread first so none runs between the match and the calling thread's own freeze.
func (s *Session) preempt(r *thread.Record, threadID uint64) {
	stack := r.CallStack()
	reason := ""
	switch {
	case s.strong.Matches(stack):
		reason = "strong"
	case r.Marked():
		reason = "marked"
	case s.weak.Matches(stack):
		reason = "weak"
	default:
		return
	}
	if !s.budget.TryAcquire() {
		budgetOverflowTotal.Inc()
		if s.budget.Overflow == Terminate {
			s.log.Warnf("preemption budget of %d spent at %s, terminating", s.budget.Max, r.CurrentMethodName())
			s.exit(0)
		}
		return
	}
	preemptionsTotal.WithLabelValues(reason).Inc()
	if s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		s.log.Debugf("freeze thread %d (%s) at %v", r.CountedID, reason, ident.DisplayNames(stack))
	}
	if reason == "strong" {
		s.tracker.FreezeOthers(r, s.immediate)
	}
	if err := r.Freeze(s.immediate, threadID); err != nil {
		s.log.Debugf("freeze thread %d: %v", r.CountedID, err)
	}
}

// start opens the window once and launches the control loop.
func (s *Session) start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyUsed
	}
	s.enabled.Store(true)
	runsTotal.WithLabelValues(s.driverName).Inc()
	s.group.Go(func() error { return s.loop(context.Background()) })
	s.log.Infof("enabled thread control (driver %s)", s.driverName)
	return nil
}

// stop closes the window and waits for the control loop to finish.
func (s *Session) stop() {
	if !s.enabled.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("disabled thread control")
	if err := s.group.Wait(); err != nil {
		s.log.Errorf("control loop: %v", err)
	}
}

// Close releases the data file and the driver's resources. Call after the window closed.
func (s *Session) Close() error {
	var errs []error
	if c, ok := s.driver.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.closeStore())
	return errors.Join(errs...)
}

func (s *Session) closeStore() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

func (s *Session) loop(ctx context.Context) error {
	rt := trace.NewRunTrace()
	for s.enabled.Load() && ctx.Err() == nil {
		s.tracker.Poll()
		if !s.tracker.AnyFrozen() {
			runtime.Gosched()
			continue
		}
		s.settle()
		s.decide(rt)
	}
	return s.finish(rt)
}

// decide asks the driver once and thaws its choice.
func (s *Session) decide(rt *trace.RunTrace) {
	frozen := s.tracker.Frozen()
	if len(frozen) == 0 {
		return
	}
	frozenThreads.Set(float64(len(frozen)))
	chosen := s.driver.SelectThreadsToRun(frozen, rt)
	if len(chosen) == 0 {
		return
	}
	step := trace.Step{Options: len(frozen)}
	for _, r := range chosen {
		if name := r.CurrentMethodName(); name != "" {
			step.Choices = append(step.Choices, trace.Choice{CountedID: r.CountedID, Method: name})
		}
	}
	rt.Record(step)
	decisionsTotal.Inc()
	decisionOptions.Observe(float64(len(frozen)))
	for _, r := range chosen {
		if r.Frozen() {
			if err := r.Thaw(); err != nil {
				s.log.Debugf("thaw thread %d: %v", r.CountedID, err)
			}
		}
	}
}

// finish persists the trace, writes the text log and releases every thread.
func (s *Session) finish(rt *trace.RunTrace) error {
	defer func() {
		time.Sleep(shutdownGrace)
		s.tracker.Shutdown()
		s.result.Store(rt)
	}()

	items := rt.Items()
	var errs []error
	if s.store != nil && s.driver.ShouldPersistTrace() {
		if err := s.store.Append(items); err != nil {
			tracesPersistedTotal.WithLabelValues("error").Inc()
			errs = append(errs, fmt.Errorf("persist trace: %w", err))
		} else {
			tracesPersistedTotal.WithLabelValues("ok").Inc()
		}
	}
	if s.traceFile != "" {
		if err := s.writeTraceFile(items); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Infof("run finished: %d decisions, %d preemptions", rt.Len(), s.budget.Used())
	return errors.Join(errs...)
}

func (s *Session) writeTraceFile(items []trace.Item) error {
	w, closeFn, err := trace.OpenTextTarget(s.traceFile)
	if err != nil {
		return err
	}
	if err := trace.WriteText(w, items); err != nil {
		closeFn()
		return fmt.Errorf("write trace file: %w", err)
	}
	return closeFn()
}

package sct

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interleave-sct/interleave/sct/driver"
	"github.com/interleave-sct/interleave/sct/ident"
	"github.com/interleave-sct/interleave/sct/store"
	"github.com/interleave-sct/interleave/sct/thread"
	"github.com/interleave-sct/interleave/sct/trace"
)

var (
	programMain = ident.NewFunc("Program", "Main")
	workerSpin  = ident.NewFunc("Worker", "Spin")
	workerTick  = ident.NewFunc("Worker", "Tick")
	workerHit   = ident.NewFunc("Worker", "Hit")
	doWork      = ident.NewFunc("Worker", "Work")
)

// recordingDriver resumes every frozen thread and remembers the candidate counts.
type recordingDriver struct {
	mu      sync.Mutex
	options []int
	persist bool
}

func (d *recordingDriver) SelectThreadsToRun(frozen []*thread.Record, _ *trace.RunTrace) []*thread.Record {
	d.mu.Lock()
	d.options = append(d.options, len(frozen))
	d.mu.Unlock()
	return frozen
}

func (d *recordingDriver) ShouldPersistTrace() bool { return d.persist }

func (d *recordingDriver) seen() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.options...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSession(t *testing.T, cfg *Config, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := NewSession(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runWithTimeout(t *testing.T, body func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		body()
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("program under test did not finish")
	}
}

func TestSession_StrongPointFreezesOthersFirst(t *testing.T) {
	// GIVEN a strong stop point and a second thread busy at hooks
	d := &recordingDriver{}
	bound := uint64(1)
	s := newTestSession(t, &Config{
		EntryPoint:      "Program Main",
		StrongPoints:    []string{"Worker Hit"},
		StopType:        "immediate",
		ThawSettle:      "20ms",
		PreemptionBound: &bound,
	}, WithDriver(d))

	runWithTimeout(t, func() {
		s.Enter(programMain)
		assert.True(t, s.Enabled())

		ready := make(chan struct{})
		var stop sync.WaitGroup
		quit := make(chan struct{})
		stop.Add(1)
		go func() {
			defer stop.Done()
			s.Enter(workerSpin)
			close(ready)
			for {
				select {
				case <-quit:
					s.Leave(workerSpin)
					return
				default:
					s.Enter(workerTick)
					s.Leave(workerTick)
				}
			}
		}()
		<-ready

		// WHEN the entry thread hits the strong point
		s.Enter(workerHit)
		s.Leave(workerHit)

		close(quit)
		stop.Wait()
		s.Leave(programMain)
	})

	// THEN the first decision saw both threads frozen
	require.NotEmpty(t, d.seen())
	assert.Equal(t, 2, d.seen()[0])

	rt := s.RunTrace()
	require.NotNil(t, rt)
	require.GreaterOrEqual(t, rt.Len(), 1)
	first := rt.Steps[0]
	assert.Equal(t, 2, first.Options)
	assert.ElementsMatch(t, []uint64{1, 2}, []uint64{first.Choices[0].CountedID, first.Choices[1].CountedID})
	assert.False(t, s.Enabled())
	assert.True(t, s.Tracker().Closed())
}

func TestSession_BudgetContinueIgnoresExtraMatches(t *testing.T) {
	// GIVEN a weak point and a budget of 2
	d := &recordingDriver{}
	bound := uint64(2)
	exits := 0
	s := newTestSession(t, &Config{
		EntryPoint:      "Program Main",
		WeakPoints:      []string{"Worker Work"},
		PreemptionBound: &bound,
	}, WithDriver(d), WithExit(func(int) { exits++ }))

	// WHEN the point is hit three times
	runWithTimeout(t, func() {
		s.Enter(programMain)
		for i := 0; i < 3; i++ {
			s.Enter(doWork, i)
			s.Leave(doWork)
		}
		s.Leave(programMain)
	})

	// THEN only two freezes happened and the run went on
	assert.Equal(t, uint64(2), s.Budget().Used())
	assert.Equal(t, 2, s.RunTrace().Len())
	assert.Zero(t, exits)
}

func TestSession_BudgetTerminateExits(t *testing.T) {
	d := &recordingDriver{}
	bound := uint64(1)
	var codes []int
	s := newTestSession(t, &Config{
		EntryPoint:         "Program Main",
		WeakPoints:         []string{"Worker Work"},
		PreemptionBound:    &bound,
		PreemptionOverflow: "terminate",
	}, WithDriver(d), WithExit(func(code int) { codes = append(codes, code) }))

	runWithTimeout(t, func() {
		s.Enter(programMain)
		for i := 0; i < 2; i++ {
			s.Enter(doWork)
			s.Leave(doWork)
		}
		s.Leave(programMain)
	})

	assert.Equal(t, []int{0}, codes, "the second match terminates")
	assert.Equal(t, 1, s.RunTrace().Len())
}

func TestSession_HooksOutsideWindowAreIgnored(t *testing.T) {
	d := &recordingDriver{}
	s := newTestSession(t, &Config{EntryPoint: "Program Main", WeakPoints: []string{"Worker Work"}}, WithDriver(d))

	s.Enter(doWork)
	s.Leave(doWork)

	assert.False(t, s.Enabled())
	assert.Nil(t, s.RunTrace())
	assert.True(t, s.IsEntryPoint(programMain))
	assert.False(t, s.IsEntryPoint(doWork))
}

func TestSession_WindowOpensOnce(t *testing.T) {
	d := &recordingDriver{}
	s := newTestSession(t, &Config{EntryPoint: "Program Main"}, WithDriver(d))

	runWithTimeout(t, func() {
		s.Enter(programMain)
		s.Leave(programMain)
	})
	require.NotNil(t, s.RunTrace())

	s.Enter(programMain)
	assert.False(t, s.Enabled(), "a finished session stays disabled")
	assert.ErrorIs(t, s.start(), ErrAlreadyUsed)
}

func TestSession_PersistsAndWritesTraceFile(t *testing.T) {
	// GIVEN a fuzzing session with a data file and a text trace
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "traces.bin")
	traceFile := filepath.Join(dir, "trace.txt")
	seed := int64(7)
	cfg := &Config{
		Driver:     "fuzzing",
		Seed:       &seed,
		EntryPoint: "Program Main",
		WeakPoints: []string{"Worker Work"},
		DataFile:   dataFile,
		TraceFile:  traceFile,
	}
	s := newTestSession(t, cfg)

	// WHEN one thread hits the weak point twice
	runWithTimeout(t, func() {
		s.Enter(programMain)
		s.Enter(doWork)
		s.Leave(doWork)
		s.Enter(doWork)
		s.Leave(doWork)
		s.Leave(programMain)
	})
	require.NoError(t, s.Close())

	// THEN the store holds one trace of two single-choice decisions
	st, err := store.OpenReadOnly(dataFile)
	require.NoError(t, err)
	defer st.Close()
	items, err := st.Trace(0)
	require.NoError(t, err)
	want := []trace.Item{
		{CountedID: 1, Method: "Worker.Work()", Options: 1},
		{CountedID: 1, Method: "Worker.Work()", Options: 1},
	}
	assert.Equal(t, want, items)

	text, err := os.ReadFile(traceFile)
	require.NoError(t, err)
	assert.Equal(t, "1 Worker.Work() [options: 1]\n1 Worker.Work() [options: 1]\n", string(text))
}

func TestSession_PursuingDoesNotPersist(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "traces.bin")
	st, err := store.Open(dataFile)
	require.NoError(t, err)
	require.NoError(t, st.Append([]trace.Item{{CountedID: 1, Method: "Worker.Work()", Options: 1}}))
	require.NoError(t, st.Close())

	s := newTestSession(t, &Config{
		Driver:     "pursuing",
		EntryPoint: "Program Main",
		WeakPoints: []string{"Worker Work"},
		DataFile:   dataFile,
	})
	runWithTimeout(t, func() {
		s.Enter(programMain)
		s.Enter(doWork)
		s.Leave(doWork)
		s.Leave(programMain)
	})
	require.NoError(t, s.Close())

	r, err := store.OpenReadOnly(dataFile)
	require.NoError(t, err)
	defer r.Close()
	n, err := r.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewSession_ConfigurationErrors(t *testing.T) {
	_, err := NewSession(&Config{Driver: "systematic", EntryPoint: "Program"})
	assert.ErrorIs(t, err, driver.ErrNoDataFile)

	_, err = NewSession(&Config{Driver: "pursuing", EntryPoint: "Program"})
	assert.ErrorIs(t, err, driver.ErrNoDataFile)

	_, err = NewSession(&Config{EntryPoint: "Program", WeakPoints: []string{"A ("}})
	assert.Error(t, err)

	_, err = NewSession(&Config{})
	assert.Error(t, err, "entry point is required")
}

func TestNewSession_SystematicExhausted(t *testing.T) {
	// GIVEN a data file covering the only schedule of a single thread
	dataFile := filepath.Join(t.TempDir(), "traces.bin")
	st, err := store.Open(dataFile)
	require.NoError(t, err)
	require.NoError(t, st.Append([]trace.Item{{CountedID: 1, Method: "Worker.Work()", Options: 1}}))
	require.NoError(t, st.Close())

	// WHEN a systematic session is created
	_, err = NewSession(&Config{Driver: "systematic", EntryPoint: "Program", DataFile: dataFile}, WithLogger(quietLogger()))

	// THEN it refuses to run
	assert.ErrorIs(t, err, driver.ErrExhausted)
}

func TestSession_ConsoleWithoutInputRunsToCompletion(t *testing.T) {
	// GIVEN a console driver whose input is already closed
	s := newTestSession(t, &Config{EntryPoint: "Program Main", WeakPoints: []string{"Worker Work"}},
		WithDriver(driver.NewConsole(strings.NewReader(""), io.Discard)))

	// WHEN the entry thread hits a weak point
	runWithTimeout(t, func() {
		s.Enter(programMain)
		s.Enter(doWork)
		s.Leave(doWork)
		s.Leave(programMain)
	})

	// THEN the frozen thread was resumed and the decision recorded
	rt := s.RunTrace()
	require.NotNil(t, rt)
	assert.Equal(t, []trace.Item{{CountedID: 1, Method: "Worker.Work()", Options: 1}}, rt.Items())
}

func TestSession_DebugLogNamesFrozenStack(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	s, err := NewSession(&Config{EntryPoint: "Program Main", WeakPoints: []string{"Worker Work"}},
		WithLogger(l), WithDriver(&recordingDriver{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runWithTimeout(t, func() {
		s.Enter(programMain)
		s.Enter(doWork)
		s.Leave(doWork)
		s.Leave(programMain)
	})

	assert.Contains(t, buf.String(), "freeze thread 1 (weak) at [Program.Main() Worker.Work()]")
}

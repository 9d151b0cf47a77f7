package bench

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interleave-sct/interleave/sct"
	"github.com/interleave-sct/interleave/sct/thread"
	"github.com/interleave-sct/interleave/sct/trace"
)

// scriptedDriver resumes threads in a fixed counted-id order, waiting until the next one is frozen.
type scriptedDriver struct {
	mu    sync.Mutex
	order []uint64
}

func (d *scriptedDriver) SelectThreadsToRun(frozen []*thread.Record, _ *trace.RunTrace) []*thread.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.order) == 0 {
		return frozen[:1]
	}
	for _, r := range frozen {
		if r.CountedID == d.order[0] {
			d.order = d.order[1:]
			return []*thread.Record{r}
		}
	}
	return nil
}

func (d *scriptedDriver) ShouldPersistTrace() bool { return false }

func runScripted(t *testing.T, b Benchmark, order ...uint64) (*trace.RunTrace, error) {
	t.Helper()
	cfg := &sct.Config{EntryPoint: b.EntryPoint, WeakPoints: b.WeakPoints}
	s, err := sct.NewSession(cfg, sct.WithDriver(&scriptedDriver{order: order}))
	require.NoError(t, err)
	defer s.Close()

	runErr := b.Run(s)
	return s.RunTrace(), runErr
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"AccountBad", "Lazy01Bad"}, Names())

	b, ok := Lookup("AccountBad")
	require.True(t, ok)
	assert.Equal(t, 4, b.Concurrency)

	_, ok = Lookup("Missing")
	assert.False(t, ok)
}

func TestAccountBad_CheckFirst_Passes(t *testing.T) {
	// GIVEN threads 2 (check), 3 (deposit) and 4 (withdraw) resumed in start order
	b, _ := Lookup("AccountBad")

	// WHEN the program runs
	rt, err := runScripted(t, b, 2, 3, 4)

	// THEN the check saw neither update and the trace lists the three lock waits
	require.NoError(t, err)
	items := rt.Items()
	require.Len(t, items, 3)
	for i, id := range []uint64{2, 3, 4} {
		assert.Equal(t, id, items[i].CountedID)
		assert.Equal(t, "Benchmarks.DataLock.Wait()", items[i].Method)
	}
}

func TestAccountBad_CheckLast_ViolatesAssertion(t *testing.T) {
	b, _ := Lookup("AccountBad")

	_, err := runScripted(t, b, 3, 4, 2)

	assert.ErrorIs(t, err, ErrAssertion)
}

func TestLazy01Bad_ReaderPosition(t *testing.T) {
	b, _ := Lookup("Lazy01Bad")

	tests := []struct {
		name    string
		order   []uint64
		wantBug bool
	}{
		{"reader last", []uint64{2, 3, 4}, false},
		{"writers swapped", []uint64{3, 2, 4}, false},
		{"reader first", []uint64{4, 2, 3}, true},
		{"reader between writers", []uint64{2, 4, 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runScripted(t, b, tt.order...)
			assert.Equal(t, tt.wantBug, errors.Is(err, ErrAssertion), "err = %v", err)
		})
	}
}

func TestNopHooks_RunsToCompletion(t *testing.T) {
	for _, name := range Names() {
		b, _ := Lookup(name)
		err := b.Run(NopHooks{})
		if err != nil {
			assert.ErrorIs(t, err, ErrAssertion, name)
		}
	}
}

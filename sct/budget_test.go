package sct

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreemptionBudget_NeverOvershoots(t *testing.T) {
	// GIVEN a budget of 100 contended by 16 goroutines
	b := NewPreemptionBudget(100, Continue)
	var granted sync.Map
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			n := 0
			for i := 0; i < 50; i++ {
				if b.TryAcquire() {
					n++
				}
			}
			granted.Store(g, n)
		}(g)
	}
	wg.Wait()

	// THEN exactly Max units were handed out
	total := 0
	granted.Range(func(_, v any) bool {
		total += v.(int)
		return true
	})
	assert.Equal(t, 100, total)
	assert.Equal(t, uint64(100), b.Used())
	assert.True(t, b.Exhausted())
	assert.False(t, b.TryAcquire())
}

func TestPreemptionBudget_ZeroBound(t *testing.T) {
	b := NewPreemptionBudget(0, Terminate)
	assert.True(t, b.Exhausted())
	assert.False(t, b.TryAcquire())
	assert.Zero(t, b.Used())
}

func TestParseOverflow(t *testing.T) {
	tests := map[string]Overflow{"": Continue, "continue": Continue, "terminate": Terminate, "exit": Terminate}
	for in, want := range tests {
		got, err := ParseOverflow(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOverflow("abort")
	assert.Error(t, err)
	assert.Equal(t, "terminate", Terminate.String())
}

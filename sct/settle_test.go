package sct

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSettle_WaitsAtLeastDuration(t *testing.T) {
	for _, d := range []time.Duration{30 * time.Millisecond, 2 * time.Millisecond, 20 * time.Microsecond} {
		start := time.Now()
		newSettle(d)()
		assert.GreaterOrEqual(t, time.Since(start), d, d.String())
	}
}

func TestNewSettle_ZeroAndNegativeReturnQuickly(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		start := time.Now()
		newSettle(d)()
		assert.Less(t, time.Since(start), 100*time.Millisecond, d.String())
	}
}

package sct

import (
	"fmt"
	"sync/atomic"
)

// Overflow is what happens on a stop-point match once the budget is spent.
type Overflow int

const (
	// Continue ignores further matches.
	Continue Overflow = iota
	// Terminate ends the process.
	Terminate
)

// ParseOverflow maps a preemption_overflow value to an Overflow.
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "continue":
		return Continue, nil
	case "terminate", "exit":
		return Terminate, nil
	}
	return Continue, fmt.Errorf("unknown preemption_overflow %q (valid: continue, terminate)", s)
}

func (o Overflow) String() string {
	if o == Terminate {
		return "terminate"
	}
	return "continue"
}

// PreemptionBudget bounds the number of freezes in a run. Used only increases and never
// exceeds Max, even under concurrent acquisition.
type PreemptionBudget struct {
	Max      uint64
	Overflow Overflow
	used     atomic.Uint64
}

// NewPreemptionBudget creates a budget of bound freezes.
func NewPreemptionBudget(bound uint64, overflow Overflow) *PreemptionBudget {
	return &PreemptionBudget{Max: bound, Overflow: overflow}
}

// TryAcquire takes one unit. Returns false when the budget is spent.
func (b *PreemptionBudget) TryAcquire() bool {
	for {
		cur := b.used.Load()
		if cur >= b.Max {
			return false
		}
		if b.used.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Used returns the number of units taken.
func (b *PreemptionBudget) Used() uint64 { return b.used.Load() }

// Exhausted reports whether no unit is left.
func (b *PreemptionBudget) Exhausted() bool { return b.used.Load() >= b.Max }

// Package driver holds the scheduling strategies that pick which frozen threads run next.
package driver

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/interleave-sct/interleave/sct/thread"
	"github.com/interleave-sct/interleave/sct/trace"
)

var (
	// ErrExhausted is returned when every schedule in the search tree has been explored.
	ErrExhausted = errors.New("search space exhausted")
	// ErrNoDataFile is returned when a driver that reads past traces has none to read.
	ErrNoDataFile = errors.New("no data file")
)

// Driver chooses the threads to resume at a decision point.
// frozen is never empty and is ordered by counted id. The result is a subset of frozen;
// only the console driver may return an empty subset.
type Driver interface {
	SelectThreadsToRun(frozen []*thread.Record, soFar *trace.RunTrace) []*thread.Record
	// ShouldPersistTrace reports whether the run's trace is appended to the data file.
	ShouldPersistTrace() bool
}

// Kind names a driver.
type Kind string

const (
	KindConsole    Kind = "console"
	KindFuzzing    Kind = "fuzzing"
	KindSystematic Kind = "systematic"
	KindPursuing   Kind = "pursuing"
)

// ValidKinds is the set of recognized driver names.
var ValidKinds = map[Kind]bool{KindConsole: true, KindFuzzing: true, KindSystematic: true, KindPursuing: true}

// SearchOrder selects among several acceptable candidates.
type SearchOrder string

const (
	OrderFirst  SearchOrder = "first"
	OrderLast   SearchOrder = "last"
	OrderRandom SearchOrder = "random"
)

// ParseSearchOrder validates a search order name.
func ParseSearchOrder(s string) (SearchOrder, error) {
	switch o := SearchOrder(s); o {
	case OrderFirst, OrderLast, OrderRandom:
		return o, nil
	}
	return "", fmt.Errorf("unknown search order %q (valid: first, last, random)", s)
}

// pick returns the index of the candidate to take among n > 0.
func (o SearchOrder) pick(n int, rng *rand.Rand) int {
	switch o {
	case OrderLast:
		return n - 1
	case OrderRandom:
		return rng.Intn(n)
	default:
		return 0
	}
}

// Spec is a parsed driver selection: "console", "fuzzing", "pursuing" or
// "systematic[,order[,extraLogPath]]".
type Spec struct {
	Kind     Kind
	Order    SearchOrder
	ExtraLog string
}

// ParseSpec parses a driver selection string.
func ParseSpec(s string) (Spec, error) {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	spec := Spec{Kind: Kind(parts[0]), Order: OrderFirst}
	if !ValidKinds[spec.Kind] {
		return Spec{}, fmt.Errorf("unknown driver %q", parts[0])
	}
	if spec.Kind != KindSystematic {
		if len(parts) > 1 {
			return Spec{}, fmt.Errorf("driver %q takes no parameters", spec.Kind)
		}
		return spec, nil
	}
	if len(parts) > 3 {
		return Spec{}, fmt.Errorf("driver %q takes at most an order and an extra log path", spec.Kind)
	}
	if len(parts) > 1 && parts[1] != "" {
		order, err := ParseSearchOrder(parts[1])
		if err != nil {
			return Spec{}, err
		}
		spec.Order = order
	}
	if len(parts) > 2 {
		spec.ExtraLog = parts[2]
	}
	return spec, nil
}

func (s Spec) String() string {
	if s.Kind != KindSystematic {
		return string(s.Kind)
	}
	if s.ExtraLog != "" {
		return fmt.Sprintf("%s,%s,%s", s.Kind, s.Order, s.ExtraLog)
	}
	return fmt.Sprintf("%s,%s", s.Kind, s.Order)
}

// matchesItem reports whether a frozen thread sits at the position an item recorded.
func matchesItem(r *thread.Record, it trace.Item) bool {
	return r.CountedID == it.CountedID && r.CurrentMethodName() == it.Method
}

package driver

import (
	"fmt"
	"math/rand"

	"github.com/interleave-sct/interleave/sct/tree"
)

// Params carries what the drivers may need. Source is nil when no data file is configured.
type Params struct {
	Spec        Spec
	Source      tree.Source
	Pruner      tree.Pruner
	SearchRNG   *rand.Rand
	FuzzSeed    int64
	PursueIndex int
}

// New creates the driver named by p.Spec.
func New(p Params) (Driver, error) {
	switch p.Spec.Kind {
	case KindConsole:
		return NewStdioConsole(), nil
	case KindFuzzing:
		return NewFuzzing(p.FuzzSeed), nil
	case KindPursuing:
		if p.Source == nil {
			return nil, fmt.Errorf("pursuing driver: %w", ErrNoDataFile)
		}
		return NewPursuing(p.Source, p.PursueIndex)
	case KindSystematic:
		if p.Source == nil {
			return nil, fmt.Errorf("systematic driver: %w", ErrNoDataFile)
		}
		rng := p.SearchRNG
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		return NewSystematic(p.Source, p.Spec.Order, p.Pruner, rng, WithExtraLog(p.Spec.ExtraLog))
	default:
		return nil, fmt.Errorf("unknown driver %q", p.Spec.Kind)
	}
}

package tree

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Pruner shrinks the unexplored share of a tree before a search starts.
// Pruning only lowers node values; edges are never removed.
type Pruner interface {
	Prune(t *Tree, log logrus.FieldLogger)
}

// ValidPruners is the set of recognized pruner names.
// Shared by config validation and NewPruner.
var ValidPruners = map[string]bool{"": true, "identity": true, "randomthset": true}

// IsValidPruner reports whether name selects a pruner.
func IsValidPruner(name string) bool { return ValidPruners[name] }

// NewPruner creates a Pruner by name. Empty string selects Identity.
// rng is used by randomized pruners and may be nil for the others.
func NewPruner(name string, rng *rand.Rand) (Pruner, error) {
	switch name {
	case "", "identity":
		return Identity{}, nil
	case "randomthset":
		if rng == nil {
			return nil, fmt.Errorf("pruner %q needs a random source", name)
		}
		return &RandomThreadSet{rng: rng}, nil
	default:
		return nil, fmt.Errorf("unknown pruner %q", name)
	}
}

// Identity leaves the tree untouched.
type Identity struct{}

func (Identity) Prune(_ *Tree, log logrus.FieldLogger) {
	log.Info("[TreePruner] No modifications to the tree")
}

// RandomThreadSet discounts, at every explored node, a random share of the choices that
// were seen there but never taken, then propagates the reductions to the root.
type RandomThreadSet struct {
	rng *rand.Rand
}

// NewRandomThreadSet creates the pruner with its own random source.
func NewRandomThreadSet(rng *rand.Rand) *RandomThreadSet {
	return &RandomThreadSet{rng: rng}
}

func (p *RandomThreadSet) Prune(t *Tree, log logrus.FieldLogger) {
	before := t.Node(Root).Value
	reduced := p.pruneSubtree(t, Root)
	log.Infof("[TreePruner] Random thread set pruning reduced root value from %d by %d", before, reduced)
}

// pruneSubtree returns how much the subtree's value went down.
func (p *RandomThreadSet) pruneSubtree(t *Tree, id NodeID) int {
	total := 0
	n := t.Node(id)
	if len(n.Edges) > 0 {
		nested := 0
		for _, c := range n.Children {
			nested += p.pruneSubtree(t, c)
		}
		n = t.Node(id)
		n.Value -= nested
		total += nested
	}
	if n.Value > 0 && len(n.Edges) > 0 {
		remaining := max(0, int(n.Edges[0].Options)-len(n.Edges))
		cut := p.rng.Intn(remaining + 1)
		n.Value -= cut
		total += cut
	}
	return total
}

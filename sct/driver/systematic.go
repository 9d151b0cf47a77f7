package driver

import (
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/interleave-sct/interleave/sct/thread"
	"github.com/interleave-sct/interleave/sct/trace"
	"github.com/interleave-sct/interleave/sct/tree"
)

// Systematic steers each run toward schedules the stored traces have not covered yet.
// It walks the search tree alongside execution, one edge per decision.
type Systematic struct {
	tree   *tree.Tree
	cursor tree.NodeID
	order  SearchOrder
	rng    *rand.Rand

	log     logrus.FieldLogger
	logFile *os.File
}

// SystematicOption configures a Systematic driver.
type SystematicOption func(*Systematic)

// WithExtraLog appends a per-decision log to the file at path.
func WithExtraLog(path string) SystematicOption {
	return func(s *Systematic) {
		if path == "" {
			return
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			logrus.Warnf("systematic extra log %s: %v", path, err)
			return
		}
		l := logrus.New()
		l.SetOutput(f)
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
		s.log = l
		s.logFile = f
	}
}

// NewSystematic builds the search tree from src, prunes it once and positions the cursor at
// the root. Returns ErrExhausted when the stored traces already cover every schedule.
func NewSystematic(src tree.Source, order SearchOrder, pruner tree.Pruner, rng *rand.Rand, opts ...SystematicOption) (*Systematic, error) {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Systematic{order: order, rng: rng, log: discard}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Infof("[ NEW ITERATION (search_type=%s) ]", order)

	t, err := tree.Build(src)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("systematic driver: %w", err)
	}
	if pruner != nil {
		pruner.Prune(t, s.log)
	}
	s.tree = t
	s.cursor = tree.Root

	root := t.Node(tree.Root)
	switch {
	case len(root.Edges) == 0:
		// first run: nothing recorded, anything goes
		s.cursor = tree.Unknown
	case root.Value == 0:
		s.Close()
		return nil, fmt.Errorf("systematic driver: %d schedules explored: %w", len(root.Edges), ErrExhausted)
	}
	logrus.Debugf("systematic driver: %d tree nodes, root value %d", t.Len(), root.Value)
	return s, nil
}

// Tree returns the search tree the driver walks.
func (s *Systematic) Tree() *tree.Tree { return s.tree }

// Close closes the extra log.
func (s *Systematic) Close() error {
	if s.logFile == nil {
		return nil
	}
	err := s.logFile.Close()
	s.logFile = nil
	return err
}

func (s *Systematic) ShouldPersistTrace() bool { return true }

func (s *Systematic) SelectThreadsToRun(frozen []*thread.Record, _ *trace.RunTrace) []*thread.Record {
	if len(frozen) == 0 {
		return nil
	}
	s.log.Info("-- Selecting next thread --")
	for _, r := range frozen {
		s.log.Infof("  option %s", formatRecord(r))
	}
	s.logCursor()

	chosen, reason := s.selectOne(frozen)

	s.log.Infof("  reason: %s", reason)
	s.log.Infof("  updated cursor: %s", s.formatNode(s.cursor))
	s.log.Infof("  result: %s", formatRecord(chosen))
	return []*thread.Record{chosen}
}

func (s *Systematic) selectOne(frozen []*thread.Record) (*thread.Record, string) {
	if s.cursor == tree.Unknown {
		return frozen[s.order.pick(len(frozen), s.rng)], "no current node"
	}
	node := s.tree.Node(s.cursor)

	var open []int
	for i, c := range node.Children {
		if s.tree.Node(c).Value != 0 {
			open = append(open, i)
		}
	}
	if len(open) > 0 {
		i := open[s.order.pick(len(open), s.rng)]
		if r := s.frozenOn(frozen, node.Edges[i]); r != nil {
			s.cursor = node.Children[i]
			return r, fmt.Sprintf("selected non-exhausted edge [%d]", i)
		}
		for _, i := range open {
			if r := s.frozenOn(frozen, node.Edges[i]); r != nil {
				s.cursor = node.Children[i]
				return r, fmt.Sprintf("iterated non-exhausted edges, matched [%d]", i)
			}
		}
	}

	for _, r := range frozen {
		if !s.matchesAnyEdge(r, node) {
			s.cursor = tree.Unknown
			return r, "exploring new path"
		}
	}

	// Every frozen thread repeats an exhausted edge: the unexplored schedule recorded
	// earlier is not reachable in this run.
	s.cursor = tree.Unknown
	return frozen[s.order.pick(len(frozen), s.rng)], "only exhausted edges match"
}

func (s *Systematic) frozenOn(frozen []*thread.Record, edge trace.Item) *thread.Record {
	for _, r := range frozen {
		if matchesItem(r, edge) {
			return r
		}
	}
	return nil
}

func (s *Systematic) matchesAnyEdge(r *thread.Record, node *tree.Node) bool {
	for _, e := range node.Edges {
		if matchesItem(r, e) {
			return true
		}
	}
	return false
}

func (s *Systematic) logCursor() {
	if s.cursor == tree.Unknown {
		s.log.Info("  cursor: unknown")
		return
	}
	node := s.tree.Node(s.cursor)
	s.log.Infof("  parent: %s", s.formatNode(node.Parent))
	s.log.Infof("  cursor: %s", s.formatNode(s.cursor))
	for i, e := range node.Edges {
		s.log.Infof("    [%d] %s (%d %s %d)", i, s.formatNode(node.Children[i]), e.CountedID, e.Method, e.Options)
	}
}

func (s *Systematic) formatNode(id tree.NodeID) string {
	if id == tree.Unknown {
		return "none"
	}
	n := s.tree.Node(id)
	return fmt.Sprintf("[#%d S%d (%d)]", id, len(n.Edges), n.Value)
}

func formatRecord(r *thread.Record) string {
	name := r.CurrentMethodName()
	if name == "" {
		name = "UNK"
	}
	return fmt.Sprintf("(%d, %s)", r.CountedID, name)
}

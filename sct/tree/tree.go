// Package tree builds the search tree of explored schedules.
//
// Every stored trace is a root-to-leaf path; an edge is a (counted id, method) choice.
// A node's value counts the schedules still unexplored below it: the sum of its
// children's values plus the choices seen at the node but never taken. Zero means
// the subtree is exhausted.
package tree

import (
	"fmt"
	"io"
	"strings"

	"github.com/interleave-sct/interleave/sct/trace"
)

// NodeID is a handle into the tree's node arena.
type NodeID int

const (
	// Root is the node before the first decision.
	Root NodeID = 0
	// Unknown marks a cursor that has left the known tree.
	Unknown NodeID = -1
)

// Node is one decision point.
type Node struct {
	Value    int
	Parent   NodeID
	Edges    []trace.Item
	Children []NodeID // Children[i] is reached through Edges[i]
}

// Tree is an arena of nodes indexed by NodeID.
type Tree struct {
	nodes []Node
}

// New creates a tree holding only the root.
func New() *Tree {
	return &Tree{nodes: []Node{{Parent: Unknown}}}
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node for id. Panics on an invalid handle.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// AddEdge returns the child of parent reached through edge, creating it if no existing
// edge names the same thread and method.
func (t *Tree) AddEdge(parent NodeID, edge trace.Item) NodeID {
	p := &t.nodes[parent]
	for i, e := range p.Edges {
		if e.SamePosition(edge) {
			return p.Children[i]
		}
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{Parent: parent})
	p = &t.nodes[parent]
	p.Edges = append(p.Edges, edge)
	p.Children = append(p.Children, id)
	return id
}

// AddTrace inserts a trace as a path from the root and recomputes values back up to the root.
func (t *Tree) AddTrace(items []trace.Item) {
	cur := Root
	for _, it := range items {
		cur = t.AddEdge(cur, it)
	}
	for cur = t.nodes[cur].Parent; cur != Unknown; cur = t.nodes[cur].Parent {
		t.nodes[cur].Value = t.value(cur)
	}
}

// value recomputes a node from its children. Options of the first edge stand for the node:
// runs reaching the same point may report different counts.
func (t *Tree) value(id NodeID) int {
	n := &t.nodes[id]
	v := 0
	for _, c := range n.Children {
		v += t.nodes[c].Value
	}
	if len(n.Edges) > 0 {
		v += max(0, int(n.Edges[0].Options)-len(n.Edges))
	}
	return v
}

// Exhausted reports whether the root has been explored and nothing below it remains.
func (t *Tree) Exhausted() bool {
	root := t.nodes[Root]
	return len(root.Edges) > 0 && root.Value == 0
}

// Source is a sequence of stored traces.
type Source interface {
	Len() (int, error)
	Trace(i int) ([]trace.Item, error)
}

// Build creates the tree of every trace in src.
func Build(src Source) (*Tree, error) {
	n, err := src.Len()
	if err != nil {
		return nil, fmt.Errorf("count traces: %w", err)
	}
	t := New()
	for i := 0; i < n; i++ {
		items, err := src.Trace(i)
		if err != nil {
			return nil, fmt.Errorf("load trace %d: %w", i, err)
		}
		t.AddTrace(items)
	}
	return t, nil
}

// Walk visits nodes in pre-order with their depth; returning false skips the subtree.
func (t *Tree) Walk(visit func(id NodeID, depth int) bool) {
	var rec func(NodeID, int)
	rec = func(id NodeID, depth int) {
		if !visit(id, depth) {
			return
		}
		for _, c := range t.nodes[id].Children {
			rec(c, depth+1)
		}
	}
	rec(Root, 0)
}

// Format writes an indented dump, one edge per line with the value of its child.
func (t *Tree) Format(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "root [value: %d]\n", t.nodes[Root].Value); err != nil {
		return err
	}
	return t.format(w, Root, 1)
}

func (t *Tree) format(w io.Writer, id NodeID, depth int) error {
	n := &t.nodes[id]
	for i, e := range n.Edges {
		if _, err := fmt.Fprintf(w, "%s%d %s [options: %d] [value: %d]\n",
			strings.Repeat("  ", depth), e.CountedID, e.Method, e.Options, t.nodes[n.Children[i]].Value); err != nil {
			return err
		}
		if err := t.format(w, n.Children[i], depth+1); err != nil {
			return err
		}
	}
	return nil
}

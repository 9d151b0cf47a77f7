// Package testutil provides shared test infrastructure for the scheduler packages.
// It holds the golden search-tree dataset used by sct/tree and cmd tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/interleave-sct/interleave/sct/trace"
)

// GoldenDataset represents the structure of testdata/goldentrees.json.
type GoldenDataset struct {
	Trees []GoldenTree `json:"trees"`
}

// GoldenTree is a set of stored traces with the search tree they must produce.
type GoldenTree struct {
	Name      string         `json:"name"`
	Traces    [][]GoldenItem `json:"traces"`
	RootValue int            `json:"root_value"`
	Exhausted bool           `json:"exhausted"`
	Dump      string         `json:"dump"` // expected tree.Format output
}

// GoldenItem is one stored decision.
type GoldenItem struct {
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Options uint64 `json:"options"`
}

// Items converts the golden traces to trace items.
func (g GoldenTree) Items() [][]trace.Item {
	out := make([][]trace.Item, len(g.Traces))
	for i, tr := range g.Traces {
		out[i] = make([]trace.Item, len(tr))
		for j, it := range tr {
			out[i][j] = trace.Item{CountedID: it.ID, Method: it.Method, Options: it.Options}
		}
	}
	return out
}

// Len and Trace make a GoldenTree a tree.Source.
func (g GoldenTree) Len() (int, error) { return len(g.Traces), nil }

func (g GoldenTree) Trace(i int) ([]trace.Item, error) { return g.Items()[i], nil }

// LoadGoldenDataset loads the golden dataset from the testdata directory.
// The path is resolved relative to this source file: internal/testutil/ → testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "testdata", "goldentrees.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	if len(dataset.Trees) == 0 {
		t.Fatal("Golden dataset has no trees")
	}
	return &dataset
}

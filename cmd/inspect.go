package cmd

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/interleave-sct/interleave/sct/store"
	"github.com/interleave-sct/interleave/sct/trace"
	"github.com/interleave-sct/interleave/sct/tree"
)

var (
	inspectGraph  bool // Print the search tree instead of the file layout
	inspectBlocks int  // Offsets per index page the file was written with
)

// inspectCmd dumps a binary trace file
var inspectCmd = &cobra.Command{
	Use:   "inspect <data-file> [trace-index...]",
	Short: "Dump the index pages, traces and search tree of a trace file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		indices := make([]int, 0, len(args)-1)
		for _, a := range args[1:] {
			i, err := strconv.Atoi(a)
			if err != nil || i < 0 {
				return fmt.Errorf("invalid trace index %q", a)
			}
			indices = append(indices, i)
		}
		st, err := store.OpenReadOnly(args[0], store.WithBlocksSize(inspectBlocks))
		if err != nil {
			return err
		}
		defer st.Close()
		if inspectGraph {
			return printGraph(cmd.OutOrStdout(), st)
		}
		return inspectStore(cmd.OutOrStdout(), st, indices)
	},
}

// inspectStore prints the index pages, the requested traces (all when none are requested)
// and the pairs of identical traces involving a requested one.
func inspectStore(out io.Writer, st *store.Store, indices []int) error {
	n, err := st.Len()
	if err != nil {
		return err
	}
	pages, err := st.Index()
	if err != nil {
		return err
	}
	printf(out, "Is empty: %v\n", n == 0)
	printf(out, "Traces count: %d in %d pages of %d\n", n, len(pages), st.BlocksSize())
	for p, page := range pages {
		printf(out, "Page[%d] at 0x%08x\n", p, page.Offset)
		for i, off := range page.Slots {
			if off != 0 {
				printf(out, "  Trace[%d] offset: 0x%08x\n", p*st.BlocksSize()+i, off)
			}
		}
		printf(out, "  Next page offset: 0x%08x\n", page.Next)
	}

	requested := func(i int) bool { return len(indices) == 0 || slices.Contains(indices, i) }
	traces, err := st.Traces()
	if err != nil {
		return err
	}
	for i, items := range traces {
		if !requested(i) {
			continue
		}
		printf(out, "\nTrace %d details: [%d]\n", i, len(items))
		for _, it := range items {
			printf(out, "  %3d %s [%d]\n", it.CountedID, it.Method, it.Options)
		}
	}
	for _, i := range indices {
		if i >= n {
			printf(out, "\nTrace %d: %v\n", i, store.ErrIndexRange)
		}
	}

	printf(out, "\n")
	for i := range traces {
		for j := i + 1; j < len(traces); j++ {
			if (requested(i) || requested(j)) && slices.Equal(traces[i], traces[j]) {
				printf(out, "Trace %d and %d are the same\n", i, j)
			}
		}
	}
	return nil
}

// printGraph rebuilds the search tree from every stored trace and prints it.
func printGraph(out io.Writer, src tree.Source) error {
	t, err := tree.Build(src)
	if err != nil {
		return err
	}
	return t.Format(out)
}

// statsDebug lists the indices of duplicate traces
var statsDebug bool

// statsCmd summarizes a binary trace file
var statsCmd = &cobra.Command{
	Use:   "stats <data-file>",
	Short: "Print trace lengths and the number of unique traces in a trace file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.OpenReadOnly(args[0], store.WithBlocksSize(inspectBlocks))
		if err != nil {
			return err
		}
		defer st.Close()
		traces, err := st.Traces()
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), traces, statsDebug)
		return nil
	},
}

// printStats prints, per trace, its length and its length with consecutive choices of the same
// thread merged, then the number of distinct traces. Traces differing only in option counts
// are the same trace.
func printStats(out io.Writer, traces [][]trace.Item, debug bool) {
	for i, items := range traces {
		summary := trace.Summarize(items)
		printf(out, "Trace %d: %d / %d\n", i+1, summary.Items, summary.Collapsed)
	}
	printf(out, "\n")

	var groups [][]int
	for i, items := range traces {
		found := false
		for g := range groups {
			if trace.Equal(traces[groups[g][0]], items) {
				groups[g] = append(groups[g], i)
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, []int{i})
		}
	}
	printf(out, "Unique traces: %d\n", len(groups))
	if !debug {
		return
	}
	printf(out, "{\n")
	for _, g := range groups {
		if len(g) > 1 {
			printf(out, "    %s\n", formatIndices(g))
		}
	}
	printf(out, "}\n")
}

func formatIndices(ids []int) string {
	s := "["
	for i, id := range ids {
		if i > 0 {
			s += ", "
		}
		s += strconv.Itoa(id)
	}
	return s + "]"
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectGraph, "graph", false, "Print the search tree built from all traces")
	inspectCmd.Flags().IntVar(&inspectBlocks, "blocks", store.DefaultBlocksSize, "Trace offsets per index page")
	statsCmd.Flags().BoolVar(&statsDebug, "debug", false, "List the indices of identical traces")
	statsCmd.Flags().IntVar(&inspectBlocks, "blocks", store.DefaultBlocksSize, "Trace offsets per index page")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(statsCmd)
}

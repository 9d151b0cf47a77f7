package cmd

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/interleave-sct/interleave/sct/bench"
)

// benchCmd lists the bundled benchmarks
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "List the bundled benchmarks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		listBenchmarks(cmd.OutOrStdout())
	},
}

func listBenchmarks(out io.Writer) {
	for _, name := range bench.Names() {
		b, _ := bench.Lookup(name)
		printf(out, "%-12s threads=%d entry=%q weak=[%s]\n",
			b.Name, b.Concurrency, b.EntryPoint, strings.Join(b.WeakPoints, ", "))
	}
}

func init() {
	rootCmd.AddCommand(benchCmd)
}

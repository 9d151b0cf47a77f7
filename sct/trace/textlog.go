package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// WriteText writes the human-readable trace log: one line per resumed thread,
// "<countedId> <method> [options: <n>]".
func WriteText(w io.Writer, items []Item) error {
	bw := bufio.NewWriter(w)
	for _, it := range items {
		if _, err := fmt.Fprintf(bw, "%d %s [options: %d]\n", it.CountedID, it.Method, it.Options); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// OpenTextTarget resolves a trace-file setting: "-" is stdout, "--" is stderr, anything else
// a file created or truncated. The returned close function is a no-op for the std streams.
func OpenTextTarget(target string) (io.Writer, func() error, error) {
	switch target {
	case "-":
		return os.Stdout, func() error { return nil }, nil
	case "--":
		return os.Stderr, func() error { return nil }, nil
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace file: %w", err)
	}
	return f, f.Close, nil
}

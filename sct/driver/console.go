package driver

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/interleave-sct/interleave/sct/thread"
	"github.com/interleave-sct/interleave/sct/trace"
)

// consolePause lets freshly thawed threads reach their next stop point before prompting.
const consolePause = 40 * time.Millisecond

var argsDumper = spew.ConfigState{
	Indent:                  " ",
	MaxDepth:                2,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Console lets a person choose the threads to resume.
//
// Once its input is closed the console stops prompting and resumes the first frozen
// thread at every decision, so the program under test runs to completion.
type Console struct {
	in     *bufio.Reader
	out    io.Writer
	pause  time.Duration
	closed bool
}

// NewConsole creates a console driver reading choices from in and printing to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out, pause: consolePause}
}

// NewStdioConsole creates a console driver on the process's standard streams.
func NewStdioConsole() *Console {
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		logrus.Warn("console driver: stdin is not a terminal, choices are read from piped input")
	}
	return NewConsole(os.Stdin, os.Stdout)
}

func (c *Console) SelectThreadsToRun(frozen []*thread.Record, _ *trace.RunTrace) []*thread.Record {
	if c.closed {
		return []*thread.Record{frozen[0]}
	}
	if c.pause > 0 {
		time.Sleep(c.pause)
	}
	var b strings.Builder
	b.WriteString("Current threads\n")
	for _, r := range frozen {
		state := "Running"
		if r.Frozen() {
			state = " Frozen"
		}
		fmt.Fprintf(&b, "   [%d, thr: %5d] %s at %s", r.CountedID, r.NativeID, state, formatCurrent(r))
		b.WriteString("\n")
	}
	b.WriteString("Option? ")
	if _, err := io.WriteString(c.out, b.String()); err != nil {
		logrus.Warnf("console driver: %v", err)
	}

	line, err := c.in.ReadString('\n')
	if err != nil {
		c.closed = true
		if err == io.EOF {
			logrus.Warn("console driver: end of input, resuming threads in counted-id order")
		} else {
			logrus.Warnf("console driver: %v, resuming threads in counted-id order", err)
		}
		if line == "" {
			return []*thread.Record{frozen[0]}
		}
	}
	return parseChoices(line, frozen)
}

func (c *Console) ShouldPersistTrace() bool { return true }

// parseChoices resolves a comma-separated list of counted ids against the candidates.
// Unknown, malformed and repeated ids are skipped.
func parseChoices(line string, candidates []*thread.Record) []*thread.Record {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var out []*thread.Record
	seen := make(map[uint64]bool)
	for _, field := range strings.Split(line, ",") {
		field = strings.TrimSpace(field)
		id, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			logrus.Debugf("console driver: ignoring %q", field)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, r := range candidates {
			if r.CountedID == id {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func formatCurrent(r *thread.Record) string {
	f, ok := r.Current()
	if !ok {
		return "UNK"
	}
	if len(f.Args) == 0 {
		return f.Method.DisplayName()
	}
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = strings.TrimSpace(argsDumper.Sdump(a))
	}
	return fmt.Sprintf("%s args: %s", f.Method.DisplayName(), strings.Join(args, ", "))
}

package driver

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/interleave-sct/interleave/sct/thread"
	"github.com/interleave-sct/interleave/sct/trace"
	"github.com/interleave-sct/interleave/sct/tree"
)

// Pursuing replays one stored trace item by item. When execution diverges it resumes the
// best available thread and keeps trying to resynchronize at later items.
type Pursuing struct {
	items []trace.Item
	next  int
}

// NewPursuing loads trace index from src.
func NewPursuing(src tree.Source, index int) (*Pursuing, error) {
	n, err := src.Len()
	if err != nil {
		return nil, fmt.Errorf("pursuing driver: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("pursuing driver: data file holds no traces: %w", ErrNoDataFile)
	}
	items, err := src.Trace(index)
	if err != nil {
		return nil, fmt.Errorf("pursuing driver: %w", err)
	}
	logrus.Infof("pursuing trace %d of %d (%d items)", index, n, len(items))
	return &Pursuing{items: items}, nil
}

func (p *Pursuing) SelectThreadsToRun(frozen []*thread.Record, _ *trace.RunTrace) []*thread.Record {
	if len(frozen) == 0 {
		return nil
	}
	step := p.next
	p.next++
	if step >= len(p.items) {
		logrus.Debugf("pursuing step %d: past the end of the trace", step)
		return []*thread.Record{frozen[0]}
	}
	want := p.items[step]
	var partial *thread.Record
	for _, r := range frozen {
		if r.CountedID != want.CountedID {
			continue
		}
		if r.CurrentMethodName() == want.Method {
			return []*thread.Record{r}
		}
		if partial == nil {
			partial = r
		}
	}
	if partial != nil {
		logrus.Debugf("pursuing step %d: thread %d at %q, expected %q", step, partial.CountedID, partial.CurrentMethodName(), want.Method)
		return []*thread.Record{partial}
	}
	logrus.Debugf("pursuing step %d: thread %d not frozen, resuming thread %d", step, want.CountedID, frozen[0].CountedID)
	return []*thread.Record{frozen[0]}
}

func (p *Pursuing) ShouldPersistTrace() bool { return false }

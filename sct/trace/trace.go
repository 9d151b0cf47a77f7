package trace

// RunTrace collects the decisions of one run, in order. Append-only while the run lasts.
// Not safe for concurrent use: only the control loop records.
type RunTrace struct {
	Steps []Step
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace() *RunTrace {
	return &RunTrace{Steps: make([]Step, 0, 1024)}
}

// Record appends a decision. Steps without choices are dropped.
func (rt *RunTrace) Record(step Step) {
	if len(step.Choices) == 0 {
		return
	}
	rt.Steps = append(rt.Steps, step)
}

// Len returns the number of recorded steps.
func (rt *RunTrace) Len() int {
	if rt == nil {
		return 0
	}
	return len(rt.Steps)
}

// Items flattens the trace into one persisted item per chosen thread.
func (rt *RunTrace) Items() []Item {
	if rt == nil {
		return nil
	}
	items := make([]Item, 0, len(rt.Steps))
	for _, s := range rt.Steps {
		for _, c := range s.Choices {
			items = append(items, Item{CountedID: c.CountedID, Method: c.Method, Options: uint64(s.Options)})
		}
	}
	return items
}

// Equal reports whether two item sequences describe the same schedule.
func Equal(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SamePosition(b[i]) {
			return false
		}
	}
	return true
}

package trace

// TraceSummary aggregates statistics of a recorded schedule.
type TraceSummary struct {
	Items           int
	Collapsed       int // items left after merging consecutive choices of the same thread
	ContextSwitches int
	MaxOptions      uint64
	Threads         map[uint64]int // counted id -> times chosen
}

// Summarize computes statistics for an item sequence.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(items []Item) *TraceSummary {
	summary := &TraceSummary{Threads: make(map[uint64]int)}
	for i, it := range items {
		summary.Items++
		summary.Threads[it.CountedID]++
		if it.Options > summary.MaxOptions {
			summary.MaxOptions = it.Options
		}
		if i == 0 || items[i-1].CountedID != it.CountedID {
			summary.Collapsed++
			if i > 0 {
				summary.ContextSwitches++
			}
		}
	}
	return summary
}

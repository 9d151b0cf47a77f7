// Package trace records the scheduling decisions of one run.
// It stores pure data types and has no dependencies on the tracker or the drivers.
package trace

// Choice is one thread resumed at a decision point.
type Choice struct {
	CountedID uint64
	Method    string // display name of the thread's innermost frame when chosen
}

// Step captures a single scheduling decision: the threads resumed and how many were eligible.
type Step struct {
	Choices []Choice
	Options int
}

// Item is the persisted form of one choice: one tuple per resumed thread.
// Two items are the same schedule position when CountedID and Method agree; Options is
// informational (it may differ between runs reaching the same point).
type Item struct {
	CountedID uint64
	Method    string
	Options   uint64
}

// SamePosition reports whether two items name the same thread at the same method.
func (it Item) SamePosition(other Item) bool {
	return it.CountedID == other.CountedID && it.Method == other.Method
}

// Package ident describes the method identities delivered by the instrumentation transport.
// The scheduler never constructs identities for real programs; it only compares, matches and
// logs them. Func is a plain value implementation for in-process transports and tests.
package ident

import "strings"

// Method identifies a monitored method.
// DisplayName must be stable byte-for-byte across runs: it labels trace items and search-tree edges.
type Method interface {
	// Name returns the simple method name, e.g. "Deposit".
	Name() string
	// ClassName returns the defining class display name, e.g. "Bank.Account".
	ClassName() string
	// DisplayName returns the qualified name, e.g. "Bank.Account.Deposit(Int32)".
	DisplayName() string
}

// Func is a comparable Method value.
type Func struct {
	Class  string
	Method string
	Params []string
}

// NewFunc creates a Func for the given class, method and parameter type names.
func NewFunc(class, method string, params ...string) *Func {
	return &Func{Class: class, Method: method, Params: params}
}

func (f *Func) Name() string      { return f.Method }
func (f *Func) ClassName() string { return f.Class }

// DisplayName renders "Class.Method(P1, P2)".
func (f *Func) DisplayName() string {
	var b strings.Builder
	b.WriteString(f.Class)
	b.WriteByte('.')
	b.WriteString(f.Method)
	b.WriteByte('(')
	b.WriteString(strings.Join(f.Params, ", "))
	b.WriteByte(')')
	return b.String()
}

// DisplayNames maps a call stack to its display names, outermost first.
func DisplayNames(stack []Method) []string {
	names := make([]string, len(stack))
	for i, m := range stack {
		names[i] = m.DisplayName()
	}
	return names
}

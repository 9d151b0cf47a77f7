// Package stoppoint compiles and matches stop points: call-stack patterns at which the
// preemption controller considers freezing the calling thread.
//
// Textual syntax:
//
//	<TypeRegex> [MethodRegex] [when_in <TypeRegex> [MethodRegex]]...
//
// The first frame matcher must match the innermost frame; each following matcher must be found,
// in order, further out in the stack. A frame string without a method part matches method "Main".
// Regular expressions are anchored: they must match the whole type or method name.
package stoppoint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/interleave-sct/interleave/sct/ident"
)

// DefaultMethod is the method name matched when a frame string names only a type.
const DefaultMethod = "Main"

var whenIn = regexp.MustCompile(` +when_in +`)

// FrameMatcher matches a single frame by defining type and method name.
type FrameMatcher struct {
	typeRe   *regexp.Regexp
	methodRe *regexp.Regexp
	src      string
}

// ParseFrame compiles a "Type Method" frame string.
func ParseFrame(s string) (*FrameMatcher, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty frame pattern")
	}
	typ, method := s, DefaultMethod
	if i := strings.IndexByte(s, ' '); i >= 0 {
		typ, method = s[:i], strings.TrimSpace(s[i+1:])
	}
	typeRe, err := compileAnchored(typ)
	if err != nil {
		return nil, fmt.Errorf("frame %q: type pattern: %w", s, err)
	}
	methodRe, err := compileAnchored(method)
	if err != nil {
		return nil, fmt.Errorf("frame %q: method pattern: %w", s, err)
	}
	return &FrameMatcher{typeRe: typeRe, methodRe: methodRe, src: s}, nil
}

func compileAnchored(expr string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + expr + `)$`)
}

// MatchNames reports whether both the type and the method name match.
func (fm *FrameMatcher) MatchNames(typeName, methodName string) bool {
	return fm.typeRe.MatchString(typeName) && fm.methodRe.MatchString(methodName)
}

// Match reports whether the method matches this frame matcher.
func (fm *FrameMatcher) Match(m ident.Method) bool {
	return m != nil && fm.MatchNames(m.ClassName(), m.Name())
}

func (fm *FrameMatcher) String() string { return fm.src }

// Pattern is an ordered list of frame matchers, innermost first.
type Pattern struct {
	frames []*FrameMatcher
	src    string
}

// Parse compiles a stop point such as "Bank.Account Withdraw when_in Program Main".
func Parse(s string) (*Pattern, error) {
	parts := whenIn.Split(strings.TrimSpace(s), -1)
	p := &Pattern{src: s, frames: make([]*FrameMatcher, 0, len(parts))}
	for _, part := range parts {
		fm, err := ParseFrame(part)
		if err != nil {
			return nil, fmt.Errorf("stop point %q: %w", s, err)
		}
		p.frames = append(p.frames, fm)
	}
	return p, nil
}

// MustParse is like Parse but panics on error. Intended for tests and static tables.
func MustParse(s string) *Pattern {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether the call stack (outermost first) has the pattern's shape.
// Frames between matched frames are skipped.
func (p *Pattern) Matches(stack []ident.Method) bool {
	if len(stack) == 0 || !p.frames[0].Match(stack[len(stack)-1]) {
		return false
	}
	cursor := 0
	for i := len(stack) - 1; i >= 0; i-- {
		if p.frames[cursor].Match(stack[i]) {
			cursor++
			if cursor == len(p.frames) {
				return true
			}
		}
	}
	return false
}

// Contains reports whether any frame matcher of the pattern accepts the (type, method) pair,
// independent of stack context. Used to decide whether a method needs hooking at all.
func (p *Pattern) Contains(typeName, methodName string) bool {
	for _, fm := range p.frames {
		if fm.MatchNames(typeName, methodName) {
			return true
		}
	}
	return false
}

// Len returns the number of frame matchers.
func (p *Pattern) Len() int { return len(p.frames) }

func (p *Pattern) String() string { return p.src }

// StopPoints is a set of patterns combined with logical OR.
type StopPoints []*Pattern

// ParseAll compiles every pattern string.
func ParseAll(srcs []string) (StopPoints, error) {
	sp := make(StopPoints, 0, len(srcs))
	for _, s := range srcs {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		sp = append(sp, p)
	}
	return sp, nil
}

// Matches reports whether any pattern matches the call stack.
func (sp StopPoints) Matches(stack []ident.Method) bool {
	for _, p := range sp {
		if p.Matches(stack) {
			return true
		}
	}
	return false
}

// Contains reports whether any pattern contains the (type, method) pair.
func (sp StopPoints) Contains(typeName, methodName string) bool {
	for _, p := range sp {
		if p.Contains(typeName, methodName) {
			return true
		}
	}
	return false
}

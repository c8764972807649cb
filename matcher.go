package settlez

import (
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
)

// SpanMatcher decides whether a span counts as a match, given the relation
// values bound to the trace. Matchers must be pure.
type SpanMatcher interface {
	Match(span Span, bound RelatedTo) bool
}

// MatcherFunc adapts an ordinary function to a SpanMatcher.
type MatcherFunc func(span Span, bound RelatedTo) bool

// Match implements SpanMatcher.
func (f MatcherFunc) Match(span Span, bound RelatedTo) bool {
	return f(span, bound)
}

// NameMatch is a criterion over a span name. It is one of NameExact,
// NamePattern, NameGlob or NamePredicate.
type NameMatch interface {
	matchName(name string) bool
}

// NameExact matches a name by equality.
type NameExact string

func (n NameExact) matchName(name string) bool { return string(n) == name }

// NamePattern matches a name against a regular expression.
type NamePattern struct {
	Regexp *regexp.Regexp
}

// NewNamePattern compiles expr into a NamePattern.
func NewNamePattern(expr string) (NamePattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return NamePattern{}, fmt.Errorf("name pattern: %w", err)
	}
	return NamePattern{Regexp: re}, nil
}

// MustNamePattern is like NewNamePattern but panics on error.
func MustNamePattern(expr string) NamePattern {
	return NamePattern{Regexp: regexp.MustCompile(expr)}
}

func (n NamePattern) matchName(name string) bool {
	return n.Regexp != nil && n.Regexp.MatchString(name)
}

// NameGlob matches a name against a glob pattern such as "debounce*".
type NameGlob struct {
	glob    glob.Glob
	Pattern string
}

// NewNameGlob compiles pattern into a NameGlob.
func NewNameGlob(pattern string) (NameGlob, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return NameGlob{}, fmt.Errorf("name glob %q: %w", pattern, err)
	}
	return NameGlob{glob: g, Pattern: pattern}, nil
}

// MustNameGlob is like NewNameGlob but panics on error.
func MustNameGlob(pattern string) NameGlob {
	return NameGlob{glob: glob.MustCompile(pattern), Pattern: pattern}
}

func (n NameGlob) matchName(name string) bool {
	return n.glob != nil && n.glob.Match(name)
}

// NamePredicate matches a name with an arbitrary function.
type NamePredicate func(name string) bool

func (n NamePredicate) matchName(name string) bool { return n != nil && n(name) }

type nameMatcher struct {
	name NameMatch
}

// MatchName returns a matcher over the span name.
func MatchName(n NameMatch) SpanMatcher {
	return nameMatcher{name: n}
}

// Named is shorthand for MatchName(NameExact(name)).
func Named(name string) SpanMatcher {
	return nameMatcher{name: NameExact(name)}
}

func (m nameMatcher) Match(span Span, _ RelatedTo) bool {
	return m.name != nil && m.name.matchName(span.Name)
}

type typeMatcher struct {
	typ SpanType
}

// MatchType returns a matcher over the span type.
func MatchType(t SpanType) SpanMatcher {
	return typeMatcher{typ: t}
}

func (m typeMatcher) Match(span Span, _ RelatedTo) bool {
	return span.Type == m.typ
}

type relationMatcher struct {
	keys []Key
}

// MatchRelations returns a matcher requiring the span to relate to the
// trace's bound values for every key. Keys without a bound value only
// require the key to be present on the span.
func MatchRelations(keys ...Key) SpanMatcher {
	return relationMatcher{keys: append([]Key(nil), keys...)}
}

func (m relationMatcher) Match(span Span, bound RelatedTo) bool {
	for _, k := range m.keys {
		have, ok := span.RelatedTo[k]
		if !ok {
			return false
		}
		want, bok := bound[k]
		if !bok {
			continue
		}
		if !relationValuesEqual(have, want) {
			return false
		}
	}
	return true
}

type idleMatcher struct {
	idle bool
}

// MatchIdle returns a matcher over the component idle flag.
func MatchIdle(idle bool) SpanMatcher {
	return idleMatcher{idle: idle}
}

func (m idleMatcher) Match(span Span, _ RelatedTo) bool {
	return span.IsIdle == m.idle
}

// MatchFunc returns a matcher backed by an arbitrary predicate.
func MatchFunc(fn func(span Span, bound RelatedTo) bool) SpanMatcher {
	return MatcherFunc(fn)
}

type allMatcher []SpanMatcher

// All matches when every matcher matches. An empty All matches everything.
func All(ms ...SpanMatcher) SpanMatcher {
	return allMatcher(append([]SpanMatcher(nil), ms...))
}

// WithAllConditions is an alias for All.
func WithAllConditions(ms ...SpanMatcher) SpanMatcher {
	return All(ms...)
}

func (m allMatcher) Match(span Span, bound RelatedTo) bool {
	for _, c := range m {
		if !c.Match(span, bound) {
			return false
		}
	}
	return true
}

type anyMatcher []SpanMatcher

// Any matches when at least one matcher matches.
func Any(ms ...SpanMatcher) SpanMatcher {
	return anyMatcher(append([]SpanMatcher(nil), ms...))
}

func (m anyMatcher) Match(span Span, bound RelatedTo) bool {
	for _, c := range m {
		if c.Match(span, bound) {
			return true
		}
	}
	return false
}

type notMatcher struct {
	inner SpanMatcher
}

// Not inverts a matcher.
func Not(m SpanMatcher) SpanMatcher {
	return notMatcher{inner: m}
}

func (m notMatcher) Match(span Span, bound RelatedTo) bool {
	return !m.inner.Match(span, bound)
}

type alwaysMatcher struct{}

func (alwaysMatcher) Match(Span, RelatedTo) bool { return true }

// requiresIdle reports whether m demands an idle span through a chain of
// All combinators.
func requiresIdle(m SpanMatcher) bool {
	switch m := m.(type) {
	case idleMatcher:
		return m.idle
	case allMatcher:
		for _, c := range m {
			if requiresIdle(c) {
				return true
			}
		}
	}
	return false
}

// withoutIdle returns m with its idle criteria removed. It identifies spans
// of the same identity as an earlier idle match.
func withoutIdle(m SpanMatcher) SpanMatcher {
	switch m := m.(type) {
	case idleMatcher:
		return alwaysMatcher{}
	case allMatcher:
		out := make(allMatcher, len(m))
		for i, c := range m {
			out[i] = withoutIdle(c)
		}
		return out
	}
	return m
}

// relationKeys collects every relation key referenced by m.
func relationKeys(m SpanMatcher) []Key {
	var keys []Key
	var walk func(SpanMatcher)
	walk = func(m SpanMatcher) {
		switch m := m.(type) {
		case relationMatcher:
			keys = append(keys, m.keys...)
		case allMatcher:
			for _, c := range m {
				walk(c)
			}
		case anyMatcher:
			for _, c := range m {
				walk(c)
			}
		case notMatcher:
			walk(m.inner)
		}
	}
	walk(m)
	return keys
}

func matchesAny(ms []SpanMatcher, span Span, bound RelatedTo) bool {
	for _, m := range ms {
		if m != nil && m.Match(span, bound) {
			return true
		}
	}
	return false
}

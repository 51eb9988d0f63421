package tokenizer

import (
	"cmp"
	"slices"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// fragment is a piece of input text; ids is set once the piece has been
// resolved to a special token.
type fragment struct {
	value string
	ids   []int32
}

// specialMatcher finds every occurrence of every special token in a single
// pass over the input. The automaton is built once per vocabulary; which
// tokens may match is decided per call.
type specialMatcher struct {
	ac  *ahocorasick.AhoCorasick
	ids []int32
}

func newSpecialMatcher(vocab *Vocabulary) *specialMatcher {
	m := &specialMatcher{}
	if len(vocab.specialOrder) == 0 {
		return m
	}

	m.ids = make([]int32, len(vocab.specialOrder))
	for i, s := range vocab.specialOrder {
		m.ids[i], _ = vocab.SpecialID(s)
	}

	// overlapping matches need standard semantics: a disallowed longest token
	// must not hide a shorter allowed one at the same position
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		MatchKind: ahocorasick.StandardMatch,
	})

	ac := builder.Build(vocab.specialOrder)
	m.ac = &ac
	return m
}

type specialMatch struct {
	start, end int
	id         int32
}

// matches returns the allowed occurrences in s ordered by start, longest
// first at the same start.
func (m *specialMatcher) matches(s string, allowed func(int32) bool) []specialMatch {
	var matches []specialMatch
	iter := m.ac.IterOverlapping(s)
	for match := iter.Next(); match != nil; match = iter.Next() {
		if match.End() <= match.Start() {
			continue
		}

		if id := m.ids[match.Pattern()]; allowed(id) {
			matches = append(matches, specialMatch{start: match.Start(), end: match.End(), id: id})
		}
	}

	slices.SortFunc(matches, func(a, b specialMatch) int {
		return cmp.Or(cmp.Compare(a.start, b.start), cmp.Compare(b.end, a.end))
	})

	return matches
}

// splitSpecialTokens splits s into fragments, resolving allowed special
// tokens. The leftmost match wins; at the same position the longest allowed
// token wins. Text fragments are never empty.
func splitSpecialTokens(s string, m *specialMatcher, allowed func(int32) bool) []fragment {
	if m.ac == nil || s == "" {
		return []fragment{{value: s}}
	}

	var fragments []fragment
	var last int
	for _, match := range m.matches(s, allowed) {
		if match.start < last {
			continue
		}

		if match.start > last {
			fragments = append(fragments, fragment{value: s[last:match.start]})
		}

		fragments = append(fragments, fragment{value: s[match.start:match.end], ids: []int32{match.id}})
		last = match.end
	}

	if last < len(s) {
		fragments = append(fragments, fragment{value: s[last:]})
	}

	if len(fragments) == 0 {
		return []fragment{{value: s}}
	}

	return fragments
}

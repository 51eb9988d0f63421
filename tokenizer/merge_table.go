package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NoRule is returned by RankOf when a pair has no merge rule.
const NoRule = -1

// Pair is two adjacent token ids.
type Pair struct {
	Left, Right int32
}

// Merge is the outcome of a merge rule.
type Merge struct {
	Rank   int
	Result int32
}

// MergeRule is a merge as read from a model file, before ids are resolved.
// Left and Right hold raw token bytes.
type MergeRule struct {
	Left, Right string
	Rank        int

	// position in the source file, for error reporting
	Line   int
	Offset int64
}

// MergeTable maps adjacent token pairs to the token they merge into. Lower
// ranks merge first. Each rank identifies exactly one result token.
type MergeTable struct {
	rules map[Pair]Merge
}

// NewMergeTable resolves rules against vocab. Ranks must be strictly
// increasing; a repeated or decreasing rank, a repeated pair or a token
// missing from the vocabulary is a MalformedModelError.
func NewMergeTable(vocab *Vocabulary, rules []MergeRule) (*MergeTable, error) {
	t := &MergeTable{rules: make(map[Pair]Merge, len(rules))}

	lastRank := NoRule
	for _, r := range rules {
		if r.Rank <= lastRank {
			return nil, malformed(r.Line, r.Offset, "rank %d does not follow rank %d", r.Rank, lastRank)
		}
		lastRank = r.Rank

		left, ok := vocab.Lookup(r.Left)
		if !ok {
			return nil, malformed(r.Line, r.Offset, "left token %q not in vocabulary", r.Left)
		}

		right, ok := vocab.Lookup(r.Right)
		if !ok {
			return nil, malformed(r.Line, r.Offset, "right token %q not in vocabulary", r.Right)
		}

		result, ok := vocab.Lookup(r.Left + r.Right)
		if !ok {
			return nil, malformed(r.Line, r.Offset, "merged token %q not in vocabulary", r.Left+r.Right)
		}

		p := Pair{left, right}
		if prev, ok := t.rules[p]; ok {
			return nil, malformed(r.Line, r.Offset, "duplicate merge %q %q, first seen with rank %d", r.Left, r.Right, prev.Rank)
		}

		t.rules[p] = Merge{Rank: r.Rank, Result: result}
	}

	return t, nil
}

// DeriveMergeTable builds the implicit merge rules of a rank-ordered
// vocabulary: every split of a token into two mergeable tokens merges back
// into it, ranked by the token's own rank.
func DeriveMergeTable(vocab *Vocabulary, rank func(id int32) int) *MergeTable {
	t := &MergeTable{rules: make(map[Pair]Merge, vocab.MergeableSize()*2)}
	for s, id := range vocab.Mergeable() {
		for i := 1; i < len(s); i++ {
			left, ok := vocab.Lookup(s[:i])
			if !ok {
				continue
			}

			right, ok := vocab.Lookup(s[i:])
			if !ok {
				continue
			}

			t.rules[Pair{left, right}] = Merge{Rank: rank(id), Result: id}
		}
	}

	return t
}

// RankOf returns the rank of merging left and right, or NoRule.
func (t *MergeTable) RankOf(left, right int32) int {
	if m, ok := t.rules[Pair{left, right}]; ok {
		return m.Rank
	}

	return NoRule
}

func (t *MergeTable) Lookup(left, right int32) (Merge, bool) {
	m, ok := t.rules[Pair{left, right}]
	return m, ok
}

func (t *MergeTable) Len() int {
	return len(t.rules)
}

// ReadMerges parses a merges file: one "left right [rank]" rule per line in
// ascending rank order. A missing rank follows the previous one. Blank lines
// and a leading "#version" line are skipped. decode maps each symbol to raw
// bytes; nil keeps symbols as written.
func ReadMerges(r io.Reader, decode func(string) (string, error)) ([]MergeRule, error) {
	if decode == nil {
		decode = func(s string) (string, error) { return s, nil }
	}

	var rules []MergeRule
	var offset int64
	rank := NoRule

	br := bufio.NewReader(r)
	for line := 1; ; line++ {
		text, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}

		start := offset
		offset += int64(len(text))

		text = strings.TrimRight(text, "\r\n")
		switch {
		case text == "" && err == io.EOF:
			return rules, nil
		case text == "":
		case line == 1 && strings.HasPrefix(text, "#version"):
		default:
			fields := strings.Split(text, " ")
			if len(fields) != 2 && len(fields) != 3 {
				return nil, malformed(line, start, "expected 2 or 3 space separated fields, got %d", len(fields))
			}

			if fields[0] == "" || fields[1] == "" {
				return nil, malformed(line, start, "empty merge symbol")
			}

			rank++
			if len(fields) == 3 {
				n, perr := strconv.Atoi(fields[2])
				if perr != nil || n < 0 {
					return nil, malformed(line, start, "invalid rank %q", fields[2])
				}
				rank = n
			}

			left, derr := decode(fields[0])
			if derr != nil {
				return nil, malformed(line, start, "left symbol: %v", derr)
			}

			right, derr := decode(fields[1])
			if derr != nil {
				return nil, malformed(line, start, "right symbol: %v", derr)
			}

			rules = append(rules, MergeRule{Left: left, Right: right, Rank: rank, Line: line, Offset: start})
		}

		if err == io.EOF {
			return rules, nil
		}
	}
}

func (r MergeRule) String() string {
	return fmt.Sprintf("%q %q (rank %d)", r.Left, r.Right, r.Rank)
}

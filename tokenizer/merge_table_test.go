package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestReadMerges(t *testing.T) {
	input := "#version: 0.2\nh e\n\nhe llo 5\r\nl l\nl lo"

	rules, err := ReadMerges(strings.NewReader(input), nil)
	if err != nil {
		t.Fatal(err)
	}

	want := []MergeRule{
		{Left: "h", Right: "e", Rank: 0, Line: 2, Offset: 14},
		{Left: "he", Right: "llo", Rank: 5, Line: 4, Offset: 19},
		{Left: "l", Right: "l", Rank: 6, Line: 5, Offset: 29},
		{Left: "l", Right: "lo", Rank: 7, Line: 6, Offset: 33},
	}

	if diff := cmp.Diff(want, rules); diff != "" {
		t.Errorf("no match (-want +got):\n%s", diff)
	}
}

func TestReadMergesByteLevel(t *testing.T) {
	rules, err := ReadMerges(strings.NewReader("Ġ w\nĠw orld\n"), DecodeByteLevel)
	if err != nil {
		t.Fatal(err)
	}

	want := []MergeRule{
		{Left: " ", Right: "w", Rank: 0},
		{Left: " w", Right: "orld", Rank: 1},
	}

	if diff := cmp.Diff(want, rules, cmpopts.IgnoreFields(MergeRule{}, "Line", "Offset")); diff != "" {
		t.Errorf("no match (-want +got):\n%s", diff)
	}
}

func TestReadMergesMalformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
		line  int
	}{
		{"one field", "a b\nab\n", 2},
		{"four fields", "a b 1 2\n", 1},
		{"empty symbol", "a  b\n", 1},
		{"bad rank", "a b x\n", 1},
		{"negative rank", "a b -1\n", 1},
		{"invalid utf-8", "a b\n\xff c\n", 2},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMerges(strings.NewReader(tt.input), DecodeByteLevel)

			var mme *MalformedModelError
			if !errors.As(err, &mme) {
				t.Fatalf("error = %v, want MalformedModelError", err)
			}

			if mme.Line != tt.line {
				t.Errorf("line = %d, want %d", mme.Line, tt.line)
			}
		})
	}
}

func TestMergeTable(t *testing.T) {
	vocab, err := NewVocabulary([]Token{{0, "a"}, {1, "b"}, {2, "ab"}, {3, "c"}, {4, "abc"}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	table, err := NewMergeTable(vocab, []MergeRule{
		{Left: "a", Right: "b", Rank: 0},
		{Left: "ab", Right: "c", Rank: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	if table.Len() != 2 {
		t.Errorf("Len = %d, want 2", table.Len())
	}

	cases := []struct {
		left, right int32
		rank        int
	}{
		{0, 1, 0},
		{2, 3, 1},
		{1, 0, NoRule},
		{0, 0, NoRule},
		{99, 1, NoRule},
	}

	for _, tt := range cases {
		if rank := table.RankOf(tt.left, tt.right); rank != tt.rank {
			t.Errorf("RankOf(%d, %d) = %d, want %d", tt.left, tt.right, rank, tt.rank)
		}
	}

	if m, ok := table.Lookup(2, 3); !ok || m.Result != 4 {
		t.Errorf("Lookup(2, 3) = %v, %v, want result 4", m, ok)
	}
}

func TestMergeTableMalformed(t *testing.T) {
	vocab, err := NewVocabulary([]Token{{0, "a"}, {1, "b"}, {2, "ab"}, {3, "ba"}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name  string
		rules []MergeRule
	}{
		{
			name: "repeated rank",
			rules: []MergeRule{
				{Left: "a", Right: "b", Rank: 0},
				{Left: "b", Right: "a", Rank: 0, Line: 2},
			},
		},
		{
			name: "decreasing rank",
			rules: []MergeRule{
				{Left: "a", Right: "b", Rank: 3},
				{Left: "b", Right: "a", Rank: 1, Line: 2},
			},
		},
		{
			name: "duplicate pair",
			rules: []MergeRule{
				{Left: "a", Right: "b", Rank: 0},
				{Left: "a", Right: "b", Rank: 1, Line: 2},
			},
		},
		{
			name:  "unknown left",
			rules: []MergeRule{{Left: "x", Right: "b", Rank: 0, Line: 2}},
		},
		{
			name:  "unknown result",
			rules: []MergeRule{{Left: "a", Right: "a", Rank: 0, Line: 2}},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMergeTable(vocab, tt.rules)
			if !errors.Is(err, ErrMalformedModel) {
				t.Fatalf("error = %v, want %v", err, ErrMalformedModel)
			}

			var mme *MalformedModelError
			if errors.As(err, &mme) && mme.Line != 2 {
				t.Errorf("line = %d, want 2", mme.Line)
			}
		})
	}
}

func TestDeriveMergeTable(t *testing.T) {
	vocab, err := NewVocabulary([]Token{
		{0, "a"}, {1, "b"}, {2, "c"},
		{3, "ab"}, {4, "bc"}, {5, "abc"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	table := DeriveMergeTable(vocab, func(id int32) int { return int(id) })

	want := map[Pair]Merge{
		{0, 1}: {Rank: 3, Result: 3},
		{1, 2}: {Rank: 4, Result: 4},
		{3, 2}: {Rank: 5, Result: 5},
		{0, 4}: {Rank: 5, Result: 5},
	}

	if diff := cmp.Diff(want, table.rules); diff != "" {
		t.Errorf("no match (-want +got):\n%s", diff)
	}
}

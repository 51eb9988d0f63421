package tokenizer

import (
	"fmt"
	"iter"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

const (
	// PatternGPT2 is the GPT-2 / r50k byte-level split, e.g.
	// https://github.com/huggingface/tokenizers/blob/main/tokenizers/src/pre_tokenizers/byte_level.rs#L44
	PatternGPT2 = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

	PatternCL100K = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`

	// PatternLlama3 is the split published with Meta Llama 3, identical to cl100k.
	PatternLlama3 = PatternCL100K

	PatternO200K = `[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}]+(?i:'s|'t|'re|'ve|'m|'ll|'d)?` +
		`|[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}]*(?i:'s|'t|'re|'ve|'m|'ll|'d)?` +
		`|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n/]*|\s*[\r\n]+|\s+(?!\S)|\s+`
)

// Pretokenizer splits text into chunks that are merged independently.
type Pretokenizer struct {
	patterns []string
	regexps  []*regexp2.Regexp
}

// NewPretokenizer compiles patterns, applied in order with each refining the
// chunks of the previous one. No patterns means PatternGPT2.
func NewPretokenizer(patterns ...string) (*Pretokenizer, error) {
	if len(patterns) == 0 {
		patterns = []string{PatternGPT2}
	}

	p := Pretokenizer{patterns: patterns}
	for _, pattern := range patterns {
		re, err := regexp2.Compile(pattern, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("compile pretokenizer %q: %w", pattern, err)
		}

		p.regexps = append(p.regexps, re)
	}

	return &p, nil
}

// NoSplit returns a Pretokenizer that yields its input as a single chunk.
func NoSplit() *Pretokenizer {
	return &Pretokenizer{}
}

func (p *Pretokenizer) Patterns() []string {
	return p.patterns
}

// Split yields the chunks of s. The chunks concatenate to exactly s, including
// any invalid UTF-8. The sequence is lazy and may be ranged over repeatedly.
func (p *Pretokenizer) Split(s string) iter.Seq[string] {
	seq := func(yield func(string) bool) {
		if s != "" {
			yield(s)
		}
	}

	for _, re := range p.regexps {
		seq = splitSeq(seq, re)
	}

	return seq
}

func splitSeq(parts iter.Seq[string], re *regexp2.Regexp) iter.Seq[string] {
	return func(yield func(string) bool) {
		for part := range parts {
			if !splitOne(part, re, yield) {
				return
			}
		}
	}
}

// splitOne matches re over the runes of s and yields byte-exact chunks. Bytes
// that are not valid UTF-8 are seen by the regex as U+FFFD.
func splitOne(s string, re *regexp2.Regexp, yield func(string) bool) bool {
	runes, offsets := decodeRunes(s)

	var last int
	m, err := re.FindRunesMatch(runes)
	for ; m != nil && err == nil; m, err = re.FindNextMatch(m) {
		if m.Length == 0 {
			continue
		}

		start, end := offsets[m.Index], offsets[m.Index+m.Length]
		if start > last {
			if !yield(s[last:start]) {
				return false
			}
		}

		if !yield(s[start:end]) {
			return false
		}

		last = end
	}

	if last < len(s) {
		return yield(s[last:])
	}

	return true
}

// decodeRunes returns the runes of s and the byte offset of each rune, with a
// final entry of len(s).
func decodeRunes(s string) ([]rune, []int) {
	runes := make([]rune, 0, len(s))
	offsets := make([]int, 0, len(s)+1)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		runes = append(runes, r)
		offsets = append(offsets, i)
		i += size
	}

	return runes, append(offsets, len(s))
}

package tokenizer

import (
	"fmt"
	"maps"
	"slices"
)

// Encoding describes a published tiktoken format: the split pattern and the
// special tokens that accompany a rank file.
type Encoding struct {
	Name    string
	Pattern string

	// BOS and EOS name special tokens; the first of each is used when adding
	// markers to encoded text.
	BOS, EOS []string

	// specials lays out special tokens after a rank file whose next free
	// rank is n
	specials func(n int) []Token
}

const DefaultEncoding = "llama3"

// SpecialTokens returns the special tokens for a rank file whose highest
// rank is n-1. Presets with fixed ids ignore n.
func (e Encoding) SpecialTokens(n int) []Token {
	if e.specials == nil {
		return nil
	}

	return e.specials(n)
}

func fixed(m map[string]int32) func(int) []Token {
	return func(int) []Token {
		tokens := make([]Token, 0, len(m))
		for _, s := range slices.Sorted(maps.Keys(m)) {
			tokens = append(tokens, Token{ID: m[s], Value: s})
		}
		return tokens
	}
}

func llama3Specials(n int) []Token {
	const reserved = 256

	names := []string{
		"<|begin_of_text|>",
		"<|end_of_text|>",
		"<|reserved_special_token_0|>",
		"<|reserved_special_token_1|>",
		"<|reserved_special_token_2|>",
		"<|reserved_special_token_3|>",
		"<|start_header_id|>",
		"<|end_header_id|>",
		"<|reserved_special_token_4|>",
		"<|eot_id|>",
	}

	for i := 5; i < reserved-5; i++ {
		names = append(names, fmt.Sprintf("<|reserved_special_token_%d|>", i))
	}

	tokens := make([]Token, len(names))
	for i, name := range names {
		tokens[i] = Token{ID: int32(n + i), Value: name}
	}

	return tokens
}

// LookupEncoding returns a named encoding. "gpt2" is an alias of r50k_base.
func LookupEncoding(name string) (Encoding, bool) {
	switch name {
	case "llama3":
		return Encoding{
			Name:     "llama3",
			Pattern:  PatternLlama3,
			BOS:      []string{"<|begin_of_text|>"},
			EOS:      []string{"<|end_of_text|>", "<|eot_id|>"},
			specials: llama3Specials,
		}, true
	case "cl100k_base":
		return Encoding{
			Name:    "cl100k_base",
			Pattern: PatternCL100K,
			EOS:     []string{"<|endoftext|>"},
			specials: fixed(map[string]int32{
				"<|endoftext|>":   100257,
				"<|fim_prefix|>":  100258,
				"<|fim_middle|>":  100259,
				"<|fim_suffix|>":  100260,
				"<|endofprompt|>": 100276,
			}),
		}, true
	case "o200k_base":
		return Encoding{
			Name:    "o200k_base",
			Pattern: PatternO200K,
			EOS:     []string{"<|endoftext|>"},
			specials: fixed(map[string]int32{
				"<|endoftext|>":   199999,
				"<|endofprompt|>": 200018,
			}),
		}, true
	case "r50k_base", "gpt2":
		return Encoding{
			Name:     "r50k_base",
			Pattern:  PatternGPT2,
			EOS:      []string{"<|endoftext|>"},
			specials: fixed(map[string]int32{"<|endoftext|>": 50256}),
		}, true
	default:
		return Encoding{}, false
	}
}

// Encodings lists the names accepted by LookupEncoding, aliases excluded.
func Encodings() []string {
	return []string{"llama3", "cl100k_base", "o200k_base", "r50k_base"}
}

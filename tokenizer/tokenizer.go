// Package tokenizer implements byte-level BPE tokenizers for tiktoken and
// Hugging Face BPE models.
//
// A Tokenizer is immutable once loaded and safe for concurrent use.
package tokenizer

type Type int

const (
	TypeTiktoken Type = iota // rank-ordered .tiktoken vocabulary
	TypeBPE                  // tokenizer.json or vocab.json + merges.txt
)

func (t Type) String() string {
	switch t {
	case TypeTiktoken:
		return "tiktoken"
	case TypeBPE:
		return "bpe"
	default:
		return "unknown"
	}
}

type Tokenizer interface {
	Encode(s string, opts ...EncodeOption) ([]int32, error)
	Decode(ids []int32) (string, error)
	Is(id int32, special Special) bool
	Vocabulary() *Vocabulary
	Merges() *MergeTable
	Pretokenizer() *Pretokenizer
	Type() Type
}

var (
	_ Tokenizer = (*Tiktoken)(nil)
	_ Tokenizer = (*BytePairEncoding)(nil)
)

type encodeOptions struct {
	allowed    []string
	allSpecial bool
	bos, eos   bool
}

type EncodeOption func(*encodeOptions)

// WithAllowedSpecial lets the named special tokens be matched verbatim in the
// input. Special tokens not allowed are encoded as ordinary text.
func WithAllowedSpecial(tokens ...string) EncodeOption {
	return func(o *encodeOptions) {
		o.allowed = append(o.allowed, tokens...)
	}
}

// WithAllSpecial allows every special token of the vocabulary.
func WithAllSpecial() EncodeOption {
	return func(o *encodeOptions) {
		o.allSpecial = true
	}
}

// WithBOS prepends the vocabulary's first beginning-of-sequence token.
func WithBOS() EncodeOption {
	return func(o *encodeOptions) {
		o.bos = true
	}
}

// WithEOS appends the vocabulary's first end-of-sequence token.
func WithEOS() EncodeOption {
	return func(o *encodeOptions) {
		o.eos = true
	}
}

func (o encodeOptions) allowedFunc(vocab *Vocabulary) func(int32) bool {
	if o.allSpecial {
		return func(int32) bool { return true }
	}

	switch len(o.allowed) {
	case 0:
		return func(int32) bool { return false }
	case 1:
		want, ok := vocab.SpecialID(o.allowed[0])
		return func(id int32) bool { return ok && id == want }
	}

	set := make(map[int32]struct{}, len(o.allowed))
	for _, s := range o.allowed {
		if id, ok := vocab.SpecialID(s); ok {
			set[id] = struct{}{}
		}
	}

	return func(id int32) bool {
		_, ok := set[id]
		return ok
	}
}

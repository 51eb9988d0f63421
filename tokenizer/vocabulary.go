package tokenizer

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
)

type Special int32

const (
	SpecialBOS Special = iota
	SpecialEOS
)

// Token is a vocabulary entry. Value holds raw bytes.
type Token struct {
	ID    int32
	Value string
}

// Vocabulary is the immutable token set of a loaded model. Mergeable tokens
// take part in BPE; special tokens are only produced by verbatim matches.
type Vocabulary struct {
	mergeable *StringIntegerMap
	special   *StringIntegerMap

	// byte alphabet, -1 where no single-byte token exists
	bytes [256]int32

	// special token strings, longest first
	specialOrder []string

	bos, eos []int32
}

// NewVocabulary builds a vocabulary. Ids must be unique across mergeable and
// special tokens, as must token strings.
func NewVocabulary(mergeable, special []Token) (*Vocabulary, error) {
	v := &Vocabulary{
		mergeable: NewStringIntegerMap(len(mergeable)),
		special:   NewStringIntegerMap(len(special)),
	}

	for _, t := range mergeable {
		if err := v.mergeable.Insert(t.Value, t.ID); err != nil {
			return nil, err
		}
	}

	for _, t := range special {
		if t.Value == "" {
			return nil, fmt.Errorf("%w: empty special token with id %d", ErrMalformedModel, t.ID)
		}

		if id, ok := v.mergeable.Lookup(t.Value); ok {
			return nil, fmt.Errorf("%w: special token %q already has mergeable id %d", ErrDuplicateKey, t.Value, id)
		}

		if s, ok := v.mergeable.Token(t.ID); ok {
			return nil, fmt.Errorf("%w: special id %d already assigned to %q", ErrDuplicateKey, t.ID, s)
		}

		if err := v.special.Insert(t.Value, t.ID); err != nil {
			return nil, err
		}

		v.specialOrder = append(v.specialOrder, t.Value)
	}

	slices.SortStableFunc(v.specialOrder, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})

	for b := range v.bytes {
		v.bytes[b] = -1
		if id, ok := v.mergeable.Lookup(string([]byte{byte(b)})); ok {
			v.bytes[b] = id
		}
	}

	return v, nil
}

// setMarkers resolves BOS and EOS from token strings. Unknown names are
// ignored. Only called while loading.
func (v *Vocabulary) setMarkers(bos, eos []string) {
	resolve := func(names []string) []int32 {
		var ids []int32
		for _, name := range names {
			if id, ok := v.special.Lookup(name); ok {
				ids = append(ids, id)
			} else if id, ok := v.mergeable.Lookup(name); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}

	v.bos = resolve(bos)
	v.eos = resolve(eos)
}

func (v *Vocabulary) Is(id int32, special Special) bool {
	switch special {
	case SpecialBOS:
		return slices.Contains(v.bos, id)
	case SpecialEOS:
		return slices.Contains(v.eos, id)
	default:
		return false
	}
}

func (v *Vocabulary) BOS() []int32 { return slices.Clone(v.bos) }
func (v *Vocabulary) EOS() []int32 { return slices.Clone(v.eos) }

// Lookup returns the id of a mergeable token.
func (v *Vocabulary) Lookup(s string) (int32, bool) {
	return v.mergeable.Lookup(s)
}

// SpecialID returns the id of a special token.
func (v *Vocabulary) SpecialID(s string) (int32, bool) {
	return v.special.Lookup(s)
}

// ByteToken returns the id of the single-byte token for b.
func (v *Vocabulary) ByteToken(b byte) (int32, bool) {
	id := v.bytes[b]
	return id, id >= 0
}

// Decode returns the bytes of any token, special or not.
func (v *Vocabulary) Decode(id int32) (string, error) {
	if s, ok := v.mergeable.Token(id); ok {
		return s, nil
	}

	if s, ok := v.special.Token(id); ok {
		return s, nil
	}

	return "", &UnknownTokenIDError{ID: id}
}

// SpecialTokens lists special token strings, longest first.
func (v *Vocabulary) SpecialTokens() []string {
	return slices.Clone(v.specialOrder)
}

// Size counts mergeable and special tokens.
func (v *Vocabulary) Size() int {
	return v.mergeable.Len() + v.special.Len()
}

// MergeableSize counts tokens that take part in BPE.
func (v *Vocabulary) MergeableSize() int {
	return v.mergeable.Len()
}

// MaxID returns the largest id in the vocabulary, or -1 if empty.
func (v *Vocabulary) MaxID() int32 {
	maxID := int32(-1)
	for _, m := range []*StringIntegerMap{v.mergeable, v.special} {
		for _, id := range m.All() {
			maxID = max(maxID, id)
		}
	}
	return maxID
}

// Mergeable yields every mergeable token in no particular order.
func (v *Vocabulary) Mergeable() iter.Seq2[string, int32] {
	return v.mergeable.All()
}

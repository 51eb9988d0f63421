package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// BytePairEncoding is a byte-level BPE with an explicit merge list, as
// published in Hugging Face tokenizer.json or vocab.json + merges.txt.
type BytePairEncoding struct {
	encoder
}

// NewBytePairEncoding builds a tokenizer from a vocabulary and its merge
// table. With ignoreMerges a chunk that is itself a token is emitted whole.
func NewBytePairEncoding(vocab *Vocabulary, merges *MergeTable, pre *Pretokenizer, ignoreMerges bool) *BytePairEncoding {
	return &BytePairEncoding{encoder: newEncoder(vocab, merges, pre, ignoreMerges)}
}

func (bpe *BytePairEncoding) Encode(s string, opts ...EncodeOption) ([]int32, error) {
	return bpe.encode(s, opts...)
}

func (bpe *BytePairEncoding) Decode(ids []int32) (string, error) {
	return bpe.decode(ids)
}

func (bpe *BytePairEncoding) Is(id int32, special Special) bool {
	return bpe.vocab.Is(id, special)
}

func (bpe *BytePairEncoding) Vocabulary() *Vocabulary {
	return bpe.vocab
}

func (bpe *BytePairEncoding) Merges() *MergeTable {
	return bpe.merges
}

func (bpe *BytePairEncoding) Type() Type {
	return TypeBPE
}

// GPT-2 byte-level alphabet: every byte is given a printable rune so that
// vocabularies can be stored as JSON text.
var (
	byteToRune [256]rune
	runeToByte = make(map[rune]byte, 256)
)

func init() {
	for b := 0; b < 256; b++ {
		r := rune(b)
		switch {
		case r == 0x00ad:
			r = 0x0143
		case r <= 0x0020:
			r = r + 0x0100
		case r >= 0x007f && r <= 0x00a0:
			r = r + 0x00a2
		}

		byteToRune[b] = r
		runeToByte[r] = byte(b)
	}
}

// DecodeByteLevel maps a byte-level symbol back to raw bytes. Runes outside
// the byte-level alphabet are kept as their UTF-8 encoding.
func DecodeByteLevel(s string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				return "", fmt.Errorf("invalid utf-8 in symbol %q", s)
			}
		}

		if b, ok := runeToByte[r]; ok {
			sb.WriteByte(b)
			continue
		}

		sb.WriteRune(r)
	}

	return sb.String(), nil
}

// EncodeByteLevel maps raw bytes to their byte-level symbol.
func EncodeByteLevel(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		sb.WriteRune(byteToRune[s[i]])
	}

	return sb.String()
}

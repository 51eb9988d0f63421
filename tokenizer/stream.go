package tokenizer

import "unicode/utf8"

// StreamDecoder decodes ids one at a time, holding back bytes until they
// form complete UTF-8 sequences. It is not safe for concurrent use.
type StreamDecoder struct {
	t       Tokenizer
	pending []byte
}

func NewStreamDecoder(t Tokenizer) *StreamDecoder {
	return &StreamDecoder{t: t}
}

// Feed decodes id and returns the text that is complete so far. Bytes that may
// still be the start of a multi-byte rune are kept for the next call.
func (d *StreamDecoder) Feed(id int32) (string, error) {
	s, err := d.t.Vocabulary().Decode(id)
	if err != nil {
		return "", err
	}

	d.pending = append(d.pending, s...)

	n := completePrefix(d.pending)
	out := string(d.pending[:n])
	d.pending = append(d.pending[:0], d.pending[n:]...)
	return out, nil
}

// Flush returns any held back bytes, complete or not, and resets the decoder.
func (d *StreamDecoder) Flush() string {
	out := string(d.pending)
	d.pending = d.pending[:0]
	return out
}

// completePrefix returns the length of b without a trailing partial rune.
// Invalid bytes that cannot begin a rune are not held back.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}

	return len(b)
}

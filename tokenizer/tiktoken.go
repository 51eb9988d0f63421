package tokenizer

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Tiktoken is a rank-ordered byte-level BPE: a token's rank is its id and a
// pair merges when its concatenation is a token.
type Tiktoken struct {
	encoder
	encoding string
}

// NewTiktoken builds a tiktoken tokenizer over vocab. Mergeable token ids are
// their ranks.
func NewTiktoken(vocab *Vocabulary, pre *Pretokenizer, encoding string) *Tiktoken {
	merges := DeriveMergeTable(vocab, func(id int32) int { return int(id) })
	return &Tiktoken{
		encoder:  newEncoder(vocab, merges, pre, true),
		encoding: encoding,
	}
}

// Encode splits allowed special tokens, pretokenizes the rest and merges each
// chunk independently.
func (t *Tiktoken) Encode(s string, opts ...EncodeOption) ([]int32, error) {
	return t.encode(s, opts...)
}

func (t *Tiktoken) Decode(ids []int32) (string, error) {
	return t.decode(ids)
}

func (t *Tiktoken) Is(id int32, special Special) bool {
	return t.vocab.Is(id, special)
}

func (t *Tiktoken) Vocabulary() *Vocabulary {
	return t.vocab
}

func (t *Tiktoken) Merges() *MergeTable {
	return t.merges
}

func (t *Tiktoken) Type() Type {
	return TypeTiktoken
}

// Encoding names the preset the tokenizer was loaded with.
func (t *Tiktoken) Encoding() string {
	return t.encoding
}

// ReadTiktokenRanks parses a .tiktoken rank file: one "base64(token) rank"
// line per mergeable token, ranks strictly increasing.
func ReadTiktokenRanks(r io.Reader) ([]Token, error) {
	var tokens []Token
	var offset int64
	last := -1

	br := bufio.NewReader(r)
	for line := 1; ; line++ {
		text, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}

		start := offset
		offset += int64(len(text))

		text = bytes.TrimRight(text, "\r\n")
		if len(text) > 0 {
			token, rank, perr := parseRankLine(text)
			if perr != nil {
				return nil, malformed(line, start, "%s", perr)
			}

			if rank <= last {
				return nil, malformed(line, start, "rank %d does not follow rank %d", rank, last)
			}
			last = rank

			tokens = append(tokens, Token{ID: int32(rank), Value: token})
		}

		if err == io.EOF {
			return tokens, nil
		}
	}
}

func parseRankLine(line []byte) (string, int, error) {
	b64, rank, ok := bytes.Cut(line, []byte(" "))
	if !ok {
		return "", 0, errors.New("expected \"<base64 token> <rank>\"")
	}

	token, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return "", 0, fmt.Errorf("invalid base64 token: %w", err)
	}

	if len(token) == 0 {
		return "", 0, errors.New("empty token")
	}

	n, err := strconv.ParseInt(string(rank), 10, 32)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("invalid rank %q", rank)
	}

	return string(token), int(n), nil
}

package tokenizer

import (
	"cmp"
	"fmt"
	"log/slog"
	"strings"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/dreamqin68/tokenizers/logutil"
)

// encoder is the merge engine shared by both tokenizer variants.
type encoder struct {
	vocab   *Vocabulary
	merges  *MergeTable
	pre     *Pretokenizer
	special *specialMatcher

	// emit a chunk that is itself a mergeable token without merging
	shortCircuit bool
}

func newEncoder(vocab *Vocabulary, merges *MergeTable, pre *Pretokenizer, shortCircuit bool) encoder {
	return encoder{
		vocab:        vocab,
		merges:       merges,
		pre:          pre,
		special:      newSpecialMatcher(vocab),
		shortCircuit: shortCircuit,
	}
}

func (e *encoder) Pretokenizer() *Pretokenizer {
	return e.pre
}

// node is one symbol of a chunk in a doubly linked list; id is -1 once the
// symbol has been merged into its left neighbour.
type node struct {
	prev, next int
	id         int32
}

// candidate is a pending merge of two adjacent nodes.
type candidate struct {
	left, right     int
	leftID, rightID int32
	Merge
}

func (e *encoder) encode(s string, opts ...EncodeOption) ([]int32, error) {
	var o encodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	allowed := o.allowedFunc(e.vocab)

	ids := make([]int32, 0, len(s)/3)
	if o.bos && len(e.vocab.bos) > 0 {
		ids = append(ids, e.vocab.bos[0])
	}

	fragments := []fragment{{value: s}}
	if o.allSpecial || len(o.allowed) > 0 {
		fragments = splitSpecialTokens(s, e.special, allowed)
	}

	for _, frag := range fragments {
		if len(frag.ids) > 0 {
			ids = append(ids, frag.ids...)
			continue
		}

		for chunk := range e.pre.Split(frag.value) {
			var err error
			ids, err = e.encodeChunk(chunk, ids)
			if err != nil {
				return nil, err
			}
		}
	}

	if o.eos && len(e.vocab.eos) > 0 {
		ids = append(ids, e.vocab.eos[0])
	}

	logutil.Trace("encoded", "string", s, "ids", ids)
	return ids, nil
}

// encodeChunk appends the ids of one pretokenized chunk to ids.
func (e *encoder) encodeChunk(chunk string, ids []int32) ([]int32, error) {
	if e.shortCircuit {
		if id, ok := e.vocab.Lookup(chunk); ok {
			return append(ids, id), nil
		}
	}

	nodes := make([]node, len(chunk))
	for i := range len(chunk) {
		id, ok := e.vocab.ByteToken(chunk[i])
		if !ok {
			return nil, fmt.Errorf("%w: 0x%02x", ErrNoByteToken, chunk[i])
		}

		nodes[i] = node{prev: i - 1, next: i + 1, id: id}
	}

	pairwise := func(a, b int) *candidate {
		if a < 0 || b >= len(nodes) {
			return nil
		}

		m, ok := e.merges.Lookup(nodes[a].id, nodes[b].id)
		if !ok {
			return nil
		}

		return &candidate{
			left:    a,
			right:   b,
			leftID:  nodes[a].id,
			rightID: nodes[b].id,
			Merge:   m,
		}
	}

	pairs := heap.NewWith(func(i, j *candidate) int {
		if c := cmp.Compare(i.Rank, j.Rank); c != 0 {
			return c
		}

		return cmp.Compare(i.left, j.left)
	})

	for i := range len(nodes) - 1 {
		if c := pairwise(i, i+1); c != nil {
			pairs.Push(c)
		}
	}

	for !pairs.Empty() {
		c, _ := pairs.Pop()

		left, right := nodes[c.left], nodes[c.right]
		if left.id != c.leftID || right.id != c.rightID || left.next != c.right {
			// stale: one side has merged since this pair was queued
			continue
		}

		nodes[c.left].id = c.Result
		nodes[c.left].next = right.next
		nodes[c.right].id = -1
		if right.next < len(nodes) {
			nodes[right.next].prev = c.left
		}

		if p := pairwise(nodes[c.left].prev, c.left); p != nil {
			pairs.Push(p)
		}

		if p := pairwise(c.left, nodes[c.left].next); p != nil {
			pairs.Push(p)
		}
	}

	for i := 0; i < len(nodes); i = nodes[i].next {
		ids = append(ids, nodes[i].id)
	}

	return ids, nil
}

func (e *encoder) decode(ids []int32) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		s, err := e.vocab.Decode(id)
		if err != nil {
			return "", err
		}

		sb.WriteString(s)
	}

	logutil.Trace("decoded", "string", sb.String(), "from", lazyIdsString{ids: ids})
	return sb.String(), nil
}

type lazyIdsString struct {
	ids []int32
}

func (l lazyIdsString) LogValue() slog.Value {
	return slog.AnyValue(fmt.Sprint(l.ids))
}

package tokenizer

import (
	"fmt"
	"iter"
)

// StringIntegerMap is a bijection between token byte strings and ids.
// Strings are raw bytes and need not be valid UTF-8.
type StringIntegerMap struct {
	ids     map[string]int32
	strings map[int32]string
}

func NewStringIntegerMap(capacity int) *StringIntegerMap {
	return &StringIntegerMap{
		ids:     make(map[string]int32, capacity),
		strings: make(map[int32]string, capacity),
	}
}

// Insert adds s <-> id. It fails with ErrDuplicateKey if either side is
// already mapped, leaving the map unchanged.
func (m *StringIntegerMap) Insert(s string, id int32) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	if prev, ok := m.ids[s]; ok {
		return fmt.Errorf("%w: token %q already has id %d", ErrDuplicateKey, s, prev)
	}

	if prev, ok := m.strings[id]; ok {
		return fmt.Errorf("%w: id %d already assigned to %q", ErrDuplicateKey, id, prev)
	}

	m.ids[s] = id
	m.strings[id] = s
	return nil
}

func (m *StringIntegerMap) IDFor(s string) (int32, error) {
	if id, ok := m.ids[s]; ok {
		return id, nil
	}

	return -1, fmt.Errorf("%w: token %q", ErrNotFound, s)
}

func (m *StringIntegerMap) StringFor(id int32) (string, error) {
	if s, ok := m.strings[id]; ok {
		return s, nil
	}

	return "", fmt.Errorf("%w: id %d", ErrNotFound, id)
}

// Lookup is IDFor without the error allocation, for hot paths.
func (m *StringIntegerMap) Lookup(s string) (int32, bool) {
	id, ok := m.ids[s]
	return id, ok
}

// Token is StringFor without the error allocation, for hot paths.
func (m *StringIntegerMap) Token(id int32) (string, bool) {
	s, ok := m.strings[id]
	return s, ok
}

func (m *StringIntegerMap) Len() int {
	return len(m.ids)
}

// All yields every (string, id) entry in no particular order.
func (m *StringIntegerMap) All() iter.Seq2[string, int32] {
	return func(yield func(string, int32) bool) {
		for s, id := range m.ids {
			if !yield(s, id) {
				return
			}
		}
	}
}

package tokenizer

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrNotFound         = errors.New("not found")
	ErrInvalidID        = errors.New("invalid token id")
	ErrMalformedModel   = errors.New("malformed model")
	ErrUnknownTokenID   = errors.New("unknown token id")
	ErrNoByteToken      = errors.New("no token for byte")
	ErrUnsupportedModel = errors.New("unsupported model")
)

// ModelLoadError wraps every failure to read or parse a model resource.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// MalformedModelError reports a structurally invalid model file. Line is
// 1-based; Offset is the byte offset of the start of the offending line.
type MalformedModelError struct {
	Path   string
	Line   int
	Offset int64
	Reason string
}

func (e *MalformedModelError) Error() string {
	switch {
	case e.Line > 0 && e.Path != "":
		return fmt.Sprintf("malformed model %s:%d (offset %d): %s", e.Path, e.Line, e.Offset, e.Reason)
	case e.Line > 0:
		return fmt.Sprintf("malformed model line %d (offset %d): %s", e.Line, e.Offset, e.Reason)
	case e.Path != "":
		return fmt.Sprintf("malformed model %s: %s", e.Path, e.Reason)
	default:
		return "malformed model: " + e.Reason
	}
}

func (e *MalformedModelError) Is(target error) bool {
	return target == ErrMalformedModel
}

// UnknownTokenIDError is returned when decoding an id that is not part of the
// vocabulary.
type UnknownTokenIDError struct {
	ID int32
}

func (e *UnknownTokenIDError) Error() string {
	return fmt.Sprintf("unknown token id %d", e.ID)
}

func (e *UnknownTokenIDError) Is(target error) bool {
	return target == ErrUnknownTokenID
}

func malformed(line int, offset int64, format string, args ...any) *MalformedModelError {
	return &MalformedModelError{Line: line, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

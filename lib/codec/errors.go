package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedEndOfStream is returned when a read needs more bytes than the source holds.
	ErrUnexpectedEndOfStream = errors.New("codec: unexpected end of stream")
	// ErrOverflow is matched by every *OverflowError.
	ErrOverflow = errors.New("codec: value overflow")
	// ErrInvalidEncoding is returned for byte sequences that do not describe a valid value.
	ErrInvalidEncoding = errors.New("codec: invalid encoding")
)

// OverflowError reports a decoded value that does not fit the requested width.
type OverflowError struct {
	Field string
	Value any
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("codec: %s overflow (%v)", e.Field, e.Value)
}

// Is makes errors.Is(err, ErrOverflow) succeed.
func (e *OverflowError) Is(target error) bool {
	return target == ErrOverflow
}

package lsb

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded matches any *CapacityError.
	ErrCapacityExceeded = errors.New("payload exceeds image capacity")

	// ErrInvalidLengthHeader is returned when the embedded length header cannot
	// be read or claims more bytes than the image holds. It usually means the
	// image carries no hidden payload.
	ErrInvalidLengthHeader = errors.New("invalid length header")
)

// CapacityError reports a payload that does not fit into a cover image.
type CapacityError struct {
	Capacity  int
	Requested int
}

func (e *CapacityError) Error() string {
	if e.Requested <= e.Capacity {
		return "image too small to hold the length header"
	}
	return fmt.Sprintf("data too large: %d bytes, but image capacity is %d bytes", e.Requested, e.Capacity)
}

// Is implements errors.Is for sentinel error matching.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

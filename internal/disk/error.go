package disk

import "errors"

var (
	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("disk: manager closed")
	// ErrShortIO is returned when the underlying file transferred fewer
	// bytes than a full page.
	ErrShortIO = errors.New("disk: short read or write")
)

package journal

import (
	"errors"
)

var (
	// ErrInvalidArgument is returned before any I/O when a caller passes a size,
	// position or directory the journal cannot work with.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrZeroAlignment is returned when the alignment size is zero. Alignment is
	// used as a modulus, so this is distinct from other invalid arguments.
	ErrZeroAlignment = errors.New("journal alignment size is zero")
	// ErrJournalStopped is returned by appends to a journal that is shutting down or has died.
	ErrJournalStopped = errors.New("journal is not running")
	// ErrChannelClosed is returned by operations on a closed channel.
	ErrChannelClosed = errors.New("journal channel is closed")
)

// Result codes passed to a WriteCallback.
const (
	EOK = 0
	EIO = 101
)

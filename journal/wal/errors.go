package wal

import (
	"fmt"
)

// ShortReadError is returned when a record promised more bytes than the file holds.
type ShortReadError string

func (msg ShortReadError) Error() string {
	return fmt.Sprintf("%s: unexpectedly short read", string(msg))
}

// UnsupportedVersionError is returned for a journal header carrying a version this
// package cannot read, or when a new journal is requested with a version it cannot write.
type UnsupportedVersionError struct {
	Version int
	Write   bool
}

func (e UnsupportedVersionError) Error() string {
	if e.Write {
		return fmt.Sprintf("invalid journal format version to write: %d (want %d..%d)",
			e.Version, MinWriteVersion, CurrentVersion)
	}
	return fmt.Sprintf("invalid journal format version: %d (want %d..%d)", e.Version, V1, CurrentVersion)
}

// CorruptRecordError is returned by a scan that hit a negative record length
// which is not the padding sentinel.
type CorruptRecordError struct {
	Path   string
	Offset int64
	Length int32
}

func (e CorruptRecordError) Error() string {
	return fmt.Sprintf("invalid record found with negative length %d at offset %d of %s",
		e.Length, e.Offset, e.Path)
}

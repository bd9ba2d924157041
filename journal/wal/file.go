// Package wal holds the on-disk format of journal files: headers, record
// framing and the naming of journal files inside a journal directory.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Journal format versions.
const (
	// V1 files have no header. The append region starts at byte 0.
	V1 = 1
	// V2 adds the magic word and version.
	V2 = 2
	// V3 entries carry ledger masterKeys.
	V3 = 3
	// V4 pads the header to a full sector so writes can be aligned.
	V4 = 4
	// V5 adds padding records between group commits.
	V5 = 5
	// V6 adds explicit last-add-confirmed records.
	V6 = 6

	CurrentVersion  = V6
	MinWriteVersion = V4
)

const (
	// Magic starts every V2+ journal file.
	Magic = "BKLG"
	// VersionHeaderSize is the magic word plus the int32 version.
	VersionHeaderSize = 8
	// SectorSize is the size of the V4+ header.
	SectorSize = 512
	HeaderSize = SectorSize
)

// HeaderSizeFor returns where the append region starts for a file of the given version.
func HeaderSizeFor(version int) int64 {
	switch {
	case version >= V4:
		return HeaderSize
	case version >= V2:
		return VersionHeaderSize
	default:
		return 0
	}
}

// CheckWriteVersion reports an UnsupportedVersionError when new files cannot be
// written with the version.
func CheckWriteVersion(version int) error {
	if version < MinWriteVersion || version > CurrentVersion {
		return UnsupportedVersionError{Version: version, Write: true}
	}
	return nil
}

// EncodeHeader returns the zero-padded header for a new file of the given version.
func EncodeHeader(version int) []byte {
	buf := make([]byte, HeaderSizeFor(version))
	if len(buf) == 0 {
		return buf
	}
	copy(buf, Magic)
	binary.BigEndian.PutUint32(buf[len(Magic):], uint32(version))
	return buf
}

// ReadHeader parses the header at the start of r. A file that does not start with
// the magic word is a V1 file. A version outside V1..CurrentVersion is an error.
func ReadHeader(r io.ReaderAt) (version int, headerEnd int64, err error) {
	var buf [VersionHeaderSize]byte
	n, err := r.ReadAt(buf[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, 0, fmt.Errorf("read journal header: %w", err)
	}
	if n < VersionHeaderSize || string(buf[:len(Magic)]) != Magic {
		return V1, 0, nil
	}

	version = int(int32(binary.BigEndian.Uint32(buf[len(Magic):])))
	if version < V2 || version > CurrentVersion {
		return 0, 0, UnsupportedVersionError{Version: version}
	}
	return version, HeaderSizeFor(version), nil
}

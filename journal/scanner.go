package journal

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ledgerd/bookie/journal/wal"
	"github.com/ledgerd/bookie/utils/log"
)

// Scanner receives the records of a journal file in order.
type Scanner interface {
	// Process is called with the file's format version, the offset of the
	// record's length prefix and the record payload. Returning an error stops the scan.
	Process(version int, offset int64, entry []byte) error
}

// ScannerFunc adapts a function to a Scanner.
type ScannerFunc func(version int, offset int64, entry []byte) error

func (f ScannerFunc) Process(version int, offset int64, entry []byte) error {
	return f(version, offset, entry)
}

// ListJournalIDs returns the ids of the journal files in dir accepted by filter,
// in ascending order. A missing directory or a plain file has no journals.
func ListJournalIDs(dir string, filter func(id int64) bool) []int64 {
	return wal.NewFinder(os.ReadDir).FindIDs(dir, filter)
}

// ScanJournal reads the records of journal id in dir starting at position, or
// right after the header when position is zero, and hands each record to
// scanner. It returns the position the scan stopped at.
//
// A negative length that is not the padding sentinel is a CorruptRecordError,
// unless skipInvalid is set, in which case the scan stops and returns the
// offset of that length so the caller can truncate the file there.
//
// Scanning the file a running Journal is currently appending to is not supported.
func ScanJournal(dir string, id int64, position int64, scanner Scanner, skipInvalid bool,
	provider FileProvider,
) (int64, error) {
	recLog, err := OpenChannelForRead(dir, id, position, provider)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := recLog.Close(); cerr != nil {
			log.Warn("failed to close journal %s after scan: %v", recLog.Path(), cerr)
		}
	}()

	version := recLog.FormatVersion()
	var lenBuf [wal.LengthSize]byte
	for {
		offset := recLog.Position()
		if ok, err := readLength(recLog, lenBuf[:]); !ok {
			return recLog.Position(), err
		}
		length := wal.DecodeLength(lenBuf[:])
		if length == 0 {
			break
		}

		if length < 0 {
			if length != wal.PaddingMask {
				log.Error("invalid record found with negative length %d at offset %d of %s",
					length, offset, recLog.Path())
				if skipInvalid {
					return offset, nil
				}
				return recLog.Position(), wal.CorruptRecordError{Path: recLog.Path(), Offset: offset, Length: length}
			}

			if ok, err := readLength(recLog, lenBuf[:]); !ok {
				return recLog.Position(), err
			}
			padding := wal.DecodeLength(lenBuf[:])
			if padding < 0 {
				if skipInvalid {
					return offset, nil
				}
				return recLog.Position(), wal.CorruptRecordError{Path: recLog.Path(), Offset: offset, Length: padding}
			}
			recLog.Skip(int64(padding))
			continue
		}

		entry := make([]byte, length)
		n, err := io.ReadFull(recLog, entry)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return recLog.Position(), wal.ShortReadError(fmt.Sprintf(
					"%s: record at offset %d: expected %d bytes, got %d", recLog.Path(), offset, length, n))
			}
			return recLog.Position(), err
		}
		if err := scanner.Process(version, offset, entry); err != nil {
			return recLog.Position(), err
		}
	}
	return recLog.Position(), nil
}

// readLength reports false with a nil error when fewer than four bytes are left.
func readLength(c *Channel, buf []byte) (bool, error) {
	_, err := io.ReadFull(c, buf)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return false, nil
	default:
		return false, fmt.Errorf("read record length from %s: %w", c.Path(), err)
	}
}

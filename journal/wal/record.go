package wal

import (
	"encoding/binary"
)

const (
	// LengthSize is the size of the int32 that prefixes every record.
	LengthSize = 4
	// PaddingMask is the record length that marks a padding record. It is followed
	// by an int32 padding length and that many filler bytes.
	PaddingMask int32 = -0x100
	// paddingHeaderSize is the mask plus the padding length.
	paddingHeaderSize = 2 * LengthSize
)

// RecordSize is the number of bytes a payload of n bytes occupies in the record stream.
func RecordSize(n int) int64 {
	return int64(LengthSize + n)
}

// EncodeLength returns the big-endian length prefix of a record.
func EncodeLength(n int) [LengthSize]byte {
	var b [LengthSize]byte
	binary.BigEndian.PutUint32(b[:], uint32(int32(n)))
	return b
}

// DecodeLength reads a length prefix written by EncodeLength.
func DecodeLength(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}

// PaddingRecord returns the padding record that moves position to the next
// multiple of alignment, or nil when position is already aligned.
// alignment must be positive.
func PaddingRecord(position int64, alignment int64) []byte {
	rem := position % alignment
	if rem == 0 {
		return nil
	}
	total := alignment - rem
	for total < paddingHeaderSize {
		total += alignment
	}

	rec := make([]byte, total)
	mask := PaddingMask
	binary.BigEndian.PutUint32(rec, uint32(mask))
	binary.BigEndian.PutUint32(rec[LengthSize:], uint32(total-paddingHeaderSize))
	return rec
}

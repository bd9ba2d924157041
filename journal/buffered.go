package journal

import (
	"errors"
	"fmt"
	"io"
)

// BufferedChannel batches appends to a journal file in a user-space buffer so a
// group commit reaches the kernel in as few writes as possible. It also serves
// reads of bytes that are still buffered, which recovery of a file that is
// being written needs. It provides no concurrency guarantee; a journal channel
// has a single writer.
type BufferedChannel struct {
	fp File
	// buffer holds the bytes in [flushed, flushed+len(buffer)).
	buffer  []byte
	flushed int64
	// unbuffered channels write straight through to fp.
	unbuffered bool
}

// NewBufferedChannel appends to fp from position start. A bufferSize of zero
// makes every Write go to the file immediately.
func NewBufferedChannel(fp File, start int64, bufferSize int) (*BufferedChannel, error) {
	if bufferSize < 0 {
		return nil, fmt.Errorf("write buffer size %d: %w", bufferSize, ErrInvalidArgument)
	}
	return &BufferedChannel{
		fp:         fp,
		buffer:     make([]byte, 0, bufferSize),
		flushed:    start,
		unbuffered: bufferSize == 0,
	}, nil
}

// Position is the offset the next Write appends at.
func (b *BufferedChannel) Position() int64 {
	return b.flushed + int64(len(b.buffer))
}

// FlushedPosition is the offset up to which data has been handed to the file.
func (b *BufferedChannel) FlushedPosition() int64 {
	return b.flushed
}

// Write appends data. Once the buffer fills up it is written to the file, but
// data does not reach disk until ForceWrite.
func (b *BufferedChannel) Write(data []byte) (int, error) {
	if b.unbuffered {
		n, err := b.fp.WriteAt(data, b.flushed)
		b.flushed += int64(n)
		return n, err
	}

	written := 0
	for written < len(data) {
		if len(b.buffer) == cap(b.buffer) {
			if err := b.Flush(); err != nil {
				return written, err
			}
		}
		n := copy(b.buffer[len(b.buffer):cap(b.buffer)], data[written:])
		b.buffer = b.buffer[:len(b.buffer)+n]
		written += n
	}
	return written, nil
}

// Flush hands the buffered bytes to the file.
func (b *BufferedChannel) Flush() error {
	if len(b.buffer) == 0 {
		return nil
	}
	n, err := b.fp.WriteAt(b.buffer, b.flushed)
	b.flushed += int64(n)
	if err != nil {
		// keep what did not make it so a retry does not leave a hole
		rest := copy(b.buffer, b.buffer[n:])
		b.buffer = b.buffer[:rest]
		return fmt.Errorf("write journal buffer at %d: %w", b.flushed, err)
	}
	b.buffer = b.buffer[:0]
	return nil
}

// ForceWrite flushes the buffer and, when sync is set, syncs the file to disk.
// It returns the position everything before which has been written.
func (b *BufferedChannel) ForceWrite(metadata, sync bool) (int64, error) {
	if err := b.Flush(); err != nil {
		return b.flushed, err
	}
	if sync {
		if err := syncFile(b.fp, metadata); err != nil {
			return b.flushed, fmt.Errorf("sync journal file %s: %w", b.fp.Name(), err)
		}
	}
	return b.flushed, nil
}

// ReadAt reads from the file and overlays the bytes that are still buffered.
func (b *BufferedChannel) ReadAt(p []byte, off int64) (int, error) {
	n, err := b.fp.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}

	lo, hi := off, off+int64(len(p))
	if start := b.flushed; lo < start {
		lo = start
	}
	if end := b.Position(); hi > end {
		hi = end
	}
	if lo < hi {
		copy(p[lo-off:hi-off], b.buffer[lo-b.flushed:hi-b.flushed])
		if int(hi-off) > n {
			n = int(hi - off)
		}
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close flushes buffered bytes. The file is owned and closed by the caller.
func (b *BufferedChannel) Close() error {
	return b.Flush()
}

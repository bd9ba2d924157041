package journal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/ledgerd/bookie/journal/wal"
	"github.com/ledgerd/bookie/utils/log"
)

const (
	KB = 1024
	MB = 1024 * KB

	DefaultPreAllocSize    = 16 * MB
	DefaultWriteBufferSize = 64 * KB
	DefaultAlignment       = wal.SectorSize
)

// ChannelOptions controls how a journal file is created and written.
type ChannelOptions struct {
	// PreAllocSize is the granularity the file grows by. Must be positive.
	PreAllocSize int64
	// WriteBufferSize is the user-space write buffer. Zero writes through.
	WriteBufferSize int
	// Alignment is the granularity of extents and padding. Must be positive.
	Alignment int64
	// RemoveFromPageCache drops written pages from the OS cache after each ForceWrite.
	RemoveFromPageCache bool
	// SyncData makes ForceWrite sync the file to disk instead of only handing
	// buffered bytes to the kernel.
	SyncData bool
	// FormatVersion is the version new files are written with.
	FormatVersion int
	// ReplaceID names a retired journal whose file is renamed into the new one
	// when the provider supports reuse.
	ReplaceID *int64
	Provider  FileProvider
}

// DefaultChannelOptions returns the options a journal uses when nothing is configured.
func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{
		PreAllocSize:        DefaultPreAllocSize,
		WriteBufferSize:     DefaultWriteBufferSize,
		Alignment:           DefaultAlignment,
		RemoveFromPageCache: false,
		SyncData:            true,
		FormatVersion:       wal.CurrentVersion,
		Provider:            NewOSFileProvider(false),
	}
}

func (o *ChannelOptions) validate() error {
	if o.PreAllocSize <= 0 {
		return fmt.Errorf("preallocation size %d: %w", o.PreAllocSize, ErrInvalidArgument)
	}
	if o.WriteBufferSize < 0 {
		return fmt.Errorf("write buffer size %d: %w", o.WriteBufferSize, ErrInvalidArgument)
	}
	if o.Alignment == 0 {
		return ErrZeroAlignment
	}
	if o.Alignment < 0 {
		return fmt.Errorf("alignment size %d: %w", o.Alignment, ErrInvalidArgument)
	}
	if o.Provider == nil {
		return fmt.Errorf("nil file provider: %w", ErrInvalidArgument)
	}
	return wal.CheckWriteVersion(o.FormatVersion)
}

// Channel is one journal file. New files are created with a header for the
// requested version and preallocated in extents. Existing files are opened for
// reading; writing to them materializes a writer lazily.
//
// A Channel is not safe for concurrent use.
type Channel struct {
	path     string
	opts     ChannelOptions
	provider FileProvider

	fc File
	// wfc is the write handle of a channel opened on an existing file, nil otherwise.
	wfc File
	bc  *BufferedChannel

	formatVersion int
	headerEnd     int64
	readPos       int64

	nextPrealloc     int64
	lastDropPosition int64
	dropper          pageCacheDropper
	zeros            []byte

	reused bool
	closed bool
}

func checkDirectory(dir string) error {
	if dir == "" {
		return pkgerrors.Wrap(fs.ErrNotExist, "journal directory is not set")
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return pkgerrors.Wrapf(err, "journal directory %s", dir)
	}
	if !fi.IsDir() {
		return pkgerrors.Wrapf(fs.ErrNotExist, "journal directory %s is not a directory", dir)
	}
	return nil
}

// OpenChannel opens the journal file with the given id under dir, creating it
// when it does not exist yet.
func OpenChannel(dir string, id int64, opts ChannelOptions) (*Channel, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := checkDirectory(dir); err != nil {
		return nil, err
	}

	c := &Channel{
		path:     wal.FilePath(dir, id),
		opts:     opts,
		provider: opts.Provider,
	}

	var err error
	if _, statErr := os.Stat(c.path); errors.Is(statErr, fs.ErrNotExist) {
		err = c.create(dir, id)
	} else {
		err = c.openExisting(0)
	}
	if err != nil {
		if cerr := c.Close(); cerr != nil {
			log.Warn("failed to close partially opened journal %s: %v", c.path, cerr)
		}
		return nil, err
	}
	return c, nil
}

// OpenChannelForRead opens an existing journal file positioned at position, or
// at the end of its header when position is zero.
func OpenChannelForRead(dir string, id int64, position int64, provider FileProvider) (*Channel, error) {
	if position < 0 {
		return nil, fmt.Errorf("journal position %d: %w", position, ErrInvalidArgument)
	}
	opts := DefaultChannelOptions()
	if provider != nil {
		opts.Provider = provider
	}
	if err := checkDirectory(dir); err != nil {
		return nil, err
	}

	c := &Channel{
		path:     wal.FilePath(dir, id),
		opts:     opts,
		provider: opts.Provider,
	}
	if err := c.openExisting(position); err != nil {
		if cerr := c.Close(); cerr != nil {
			log.Warn("failed to close partially opened journal %s: %v", c.path, cerr)
		}
		return nil, err
	}
	return c, nil
}

func (c *Channel) create(dir string, id int64) error {
	if c.opts.ReplaceID != nil && c.provider.SupportsReuse() {
		oldPath, newPath, err := wal.Recycle(dir, *c.opts.ReplaceID, id)
		switch {
		case err == nil:
			c.provider.NotifyRename(oldPath, newPath)
			c.reused = true
		case errors.Is(err, fs.ErrNotExist):
			// compaction may delete the retired file first
			log.Info("journal %s to recycle is gone, creating %s", oldPath, newPath)
		default:
			return err
		}
	}

	fc, err := c.provider.Open(c.path, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return err
	}
	c.fc = fc

	c.formatVersion = c.opts.FormatVersion
	header := wal.EncodeHeader(c.formatVersion)
	if _, err := fc.WriteAt(header, 0); err != nil {
		return pkgerrors.Wrapf(err, "write header of %s", c.path)
	}
	c.headerEnd = int64(len(header))
	c.readPos = c.headerEnd

	if c.bc, err = NewBufferedChannel(fc, c.headerEnd, c.opts.WriteBufferSize); err != nil {
		return err
	}
	if c.opts.RemoveFromPageCache {
		c.dropper = newPageCacheDropper(fc)
	}
	if err := syncFile(fc, true); err != nil {
		return pkgerrors.Wrapf(err, "sync header of %s", c.path)
	}

	c.nextPrealloc = c.headerEnd
	return c.PreAllocIfNeeded(1)
}

func (c *Channel) openExisting(position int64) error {
	fc, err := c.provider.Open(c.path, os.O_RDONLY)
	if err != nil {
		return err
	}
	c.fc = fc

	version, headerEnd, err := wal.ReadHeader(fc)
	if err != nil {
		return pkgerrors.Wrapf(err, "open journal %s", c.path)
	}
	c.formatVersion = version
	c.headerEnd = headerEnd
	c.readPos = headerEnd
	if position != 0 {
		c.readPos = position
	}

	fi, err := fc.Stat()
	if err != nil {
		return pkgerrors.Wrapf(err, "stat journal %s", c.path)
	}
	c.nextPrealloc = fi.Size()
	return nil
}

// Path is the file the channel reads and writes.
func (c *Channel) Path() string { return c.path }

// FormatVersion is the version read from, or written to, the header.
func (c *Channel) FormatVersion() int { return c.formatVersion }

// HeaderSize is where the append region starts.
func (c *Channel) HeaderSize() int64 { return c.headerEnd }

// Reused reports whether the file was recycled from a retired journal.
func (c *Channel) Reused() bool { return c.reused }

// PreallocBoundary is the end of the zero-filled extent.
func (c *Channel) PreallocBoundary() int64 { return c.nextPrealloc }

// Position is the write position once a writer exists and the read position before.
func (c *Channel) Position() int64 {
	if c.bc != nil {
		return c.bc.Position()
	}
	return c.readPos
}

func (c *Channel) writer() (*BufferedChannel, error) {
	if c.closed {
		return nil, ErrChannelClosed
	}
	if c.bc != nil {
		return c.bc, nil
	}
	wfc, err := c.provider.Open(c.path, os.O_WRONLY)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open journal %s for writing", c.path)
	}
	bc, err := NewBufferedChannel(wfc, c.readPos, c.opts.WriteBufferSize)
	if err != nil {
		_ = wfc.Close()
		return nil, err
	}
	c.wfc = wfc
	c.bc = bc
	if c.opts.RemoveFromPageCache && c.dropper == nil {
		c.dropper = newPageCacheDropper(wfc)
	}
	return bc, nil
}

// Write appends p at Position.
func (c *Channel) Write(p []byte) (int, error) {
	bc, err := c.writer()
	if err != nil {
		return 0, err
	}
	return bc.Write(p)
}

// PreAllocIfNeeded makes sure the next n bytes land in the zero-filled extent.
// When they do not, the file is extended with a single write of zeros up to a
// multiple of the alignment size covering at least one more extent.
func (c *Channel) PreAllocIfNeeded(n int64) error {
	required := c.Position() + n
	if required <= c.nextPrealloc {
		return nil
	}

	boundary := c.nextPrealloc + c.opts.PreAllocSize
	if boundary < required {
		boundary = required
	}
	if rem := boundary % c.opts.Alignment; rem != 0 {
		boundary += c.opts.Alignment - rem
	}

	size := boundary - c.nextPrealloc
	if int64(len(c.zeros)) < size {
		c.zeros = make([]byte, size)
	}
	w := c.fc
	if c.wfc != nil {
		w = c.wfc
	}
	if _, err := w.WriteAt(c.zeros[:size], c.nextPrealloc); err != nil {
		return pkgerrors.Wrapf(err, "preallocate %s up to %d", c.path, boundary)
	}
	c.nextPrealloc = boundary
	return nil
}

// Flush hands buffered bytes to the OS without syncing them.
func (c *Channel) Flush() error {
	bc, err := c.writer()
	if err != nil {
		return err
	}
	return bc.Flush()
}

// ForceWrite makes everything written so far durable and returns the durable
// position. Written pages are then dropped from the page cache when configured.
func (c *Channel) ForceWrite(metadata bool) (int64, error) {
	bc, err := c.writer()
	if err != nil {
		return 0, err
	}
	pos, err := bc.ForceWrite(metadata, c.opts.SyncData)
	if err != nil {
		return pos, err
	}

	if c.dropper != nil && pos > c.lastDropPosition {
		if err := c.dropper.Drop(c.lastDropPosition, pos-c.lastDropPosition); err != nil {
			log.Warn("failed to drop pages of %s from the page cache: %v", c.path, err)
		}
		c.lastDropPosition = pos
	}
	return pos, nil
}

// Read reads from the read cursor. It returns io.EOF at the end of the file.
func (c *Channel) Read(p []byte) (int, error) {
	n, err := c.ReadAt(p, c.readPos)
	c.readPos += int64(n)
	if n > 0 && errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// Skip moves the read cursor n bytes forward.
func (c *Channel) Skip(n int64) {
	c.readPos += n
}

// ReadAt reads at off, including bytes still held in the write buffer.
func (c *Channel) ReadAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, ErrChannelClosed
	}
	if c.bc != nil {
		return c.bc.ReadAt(p, off)
	}
	return c.fc.ReadAt(p, off)
}

// Close closes whatever was opened, whether or not the buffered bytes could be
// flushed. A flush failure is returned but nothing is synced; callers that need
// the bytes durable call ForceWrite first. Closing twice is a no-op.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.bc != nil {
		if err := c.bc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.wfc != nil {
		if err := c.wfc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.fc != nil {
		if err := c.fc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package journal_test

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/journal/wal"
)

func TestOpenChannel_ReopenKeepsVersion(t *testing.T) {
	t.Parallel()

	for v := wal.MinWriteVersion; v <= wal.CurrentVersion; v++ {
		dir := t.TempDir()
		opts := testChannelOptions()
		opts.FormatVersion = v

		c, err := journal.OpenChannel(dir, 1, opts)
		require.Nil(t, err)
		assert.Equal(t, v, c.FormatVersion())
		assert.Equal(t, int64(wal.HeaderSize), c.Position())
		require.Nil(t, c.Close())

		reopened, err := journal.OpenChannel(dir, 1, journal.DefaultChannelOptions())
		require.Nil(t, err)
		assert.Equal(t, v, reopened.FormatVersion())
		assert.Equal(t, int64(wal.HeaderSize), reopened.Position())
		require.Nil(t, reopened.Close())
	}
}

func TestOpenChannel_LegacyHeaders(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		version     int
		wantVersion int
		wantPos     int64
	}{
		"V1 has no header": {version: wal.V1, wantVersion: wal.V1, wantPos: 0},
		"V2 header":        {version: wal.V2, wantVersion: wal.V2, wantPos: 8},
		"V3 header":        {version: wal.V3, wantVersion: wal.V3, wantPos: 8},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeJournalFile(t, dir, 7, tt.version, record("test"))

			c, err := journal.OpenChannelForRead(dir, 7, 0, nil)
			require.Nil(t, err)
			defer c.Close()
			assert.Equal(t, tt.wantVersion, c.FormatVersion())
			assert.Equal(t, tt.wantPos, c.Position())
		})
	}
}

func TestOpenChannel_UnknownStoredVersion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	hdr := wal.EncodeHeader(wal.V6)
	hdr[7] = 9
	require.Nil(t, os.WriteFile(wal.FilePath(dir, 3), hdr, 0o644))

	_, err := journal.OpenChannelForRead(dir, 3, 0, nil)
	var verr wal.UnsupportedVersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 9, verr.Version)
}

func TestOpenChannel_InvalidArguments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tests := map[string]struct {
		modify  func(o *journal.ChannelOptions)
		wantErr error
	}{
		"zero prealloc size":     {modify: func(o *journal.ChannelOptions) { o.PreAllocSize = 0 }, wantErr: journal.ErrInvalidArgument},
		"negative prealloc size": {modify: func(o *journal.ChannelOptions) { o.PreAllocSize = -1 }, wantErr: journal.ErrInvalidArgument},
		"negative write buffer":  {modify: func(o *journal.ChannelOptions) { o.WriteBufferSize = -1 }, wantErr: journal.ErrInvalidArgument},
		"zero alignment":         {modify: func(o *journal.ChannelOptions) { o.Alignment = 0 }, wantErr: journal.ErrZeroAlignment},
		"negative alignment":     {modify: func(o *journal.ChannelOptions) { o.Alignment = -512 }, wantErr: journal.ErrInvalidArgument},
		"nil provider":           {modify: func(o *journal.ChannelOptions) { o.Provider = nil }, wantErr: journal.ErrInvalidArgument},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			opts := testChannelOptions()
			tt.modify(&opts)
			_, err := journal.OpenChannel(dir, 1, opts)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
	// nothing was created
	assert.Empty(t, journal.ListJournalIDs(dir, nil))
}

func TestOpenChannel_UnsupportedWriteVersion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	for _, v := range []int{wal.V1, wal.V3, wal.CurrentVersion + 1} {
		opts := testChannelOptions()
		opts.FormatVersion = v
		_, err := journal.OpenChannel(dir, 1, opts)
		var verr wal.UnsupportedVersionError
		require.True(t, errors.As(err, &verr), "version %d: %v", v, err)
		assert.True(t, verr.Write)
	}
	assert.Empty(t, journal.ListJournalIDs(dir, nil))

	// the write version is checked for existing files too
	writeJournalFile(t, dir, 2, wal.V6)
	opts := testChannelOptions()
	opts.FormatVersion = wal.V3
	_, err := journal.OpenChannel(dir, 2, opts)
	var verr wal.UnsupportedVersionError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, wal.V3, verr.Version)
}

func TestOpenChannel_BadDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	require.Nil(t, os.WriteFile(plain, nil, 0o644))

	for _, d := range []string{"", filepath.Join(dir, "missing"), plain} {
		_, err := journal.OpenChannel(d, 1, testChannelOptions())
		assert.True(t, errors.Is(err, fs.ErrNotExist), "dir %q: %v", d, err)
	}
}

func TestOpenChannelForRead_Position(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeJournalFile(t, dir, 5, wal.V5, record("abc"))

	_, err := journal.OpenChannelForRead(dir, 5, -1, nil)
	assert.True(t, errors.Is(err, journal.ErrInvalidArgument))

	c, err := journal.OpenChannelForRead(dir, 5, 516, nil)
	require.Nil(t, err)
	buf := make([]byte, 3)
	n, err := c.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	require.Nil(t, c.Close())

	// beyond the end of the file is fine, reads just hit EOF
	c, err = journal.OpenChannelForRead(dir, 5, 1<<20, nil)
	require.Nil(t, err)
	n, err = c.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	require.Nil(t, c.Close())
}

func TestChannel_PreAllocIfNeeded(t *testing.T) {
	t.Parallel()

	for _, alignment := range []int64{512, 1000} {
		dir := t.TempDir()
		p := &fakeProvider{}
		opts := testChannelOptions()
		opts.PreAllocSize = 4096
		opts.Alignment = alignment
		opts.Provider = p

		c, err := journal.OpenChannel(dir, 1, opts)
		require.Nil(t, err)
		f := p.lastFile()

		boundary := c.PreallocBoundary()
		assert.Zero(t, boundary%alignment)
		assert.GreaterOrEqual(t, boundary, c.Position()+opts.PreAllocSize)

		// fits: no write
		before := len(f.writeCalls())
		require.Nil(t, c.PreAllocIfNeeded(100))
		require.Nil(t, c.PreAllocIfNeeded(boundary-c.Position()))
		assert.Len(t, f.writeCalls(), before)
		assert.Equal(t, boundary, c.PreallocBoundary())

		// does not fit: exactly one aligned write extending the file
		require.Nil(t, c.PreAllocIfNeeded(boundary-c.Position()+1))
		calls := f.writeCalls()
		require.Len(t, calls, before+1)
		last := calls[len(calls)-1]
		assert.Equal(t, boundary, last.off)
		assert.Equal(t, c.PreallocBoundary(), last.off+int64(last.n))
		assert.Zero(t, c.PreallocBoundary()%alignment)
		assert.Greater(t, c.PreallocBoundary(), boundary)

		// a requirement larger than an extent is covered in one write as well
		require.Nil(t, c.PreAllocIfNeeded(3*opts.PreAllocSize))
		calls = f.writeCalls()
		require.Len(t, calls, before+2)
		assert.GreaterOrEqual(t, c.PreallocBoundary(), c.Position()+3*opts.PreAllocSize)
		assert.Zero(t, c.PreallocBoundary()%alignment)

		require.Nil(t, c.Close())
	}
}

func TestChannel_WriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := journal.OpenChannel(dir, 1, testChannelOptions())
	require.Nil(t, err)
	defer c.Close()

	payload := []byte("the quick brown fox jumps over the lazy dog")
	off := c.Position()
	require.Nil(t, c.PreAllocIfNeeded(int64(len(payload))))
	n, err := c.Write(payload)
	require.Nil(t, err)
	require.Equal(t, len(payload), n)

	// still buffered
	got := make([]byte, len(payload))
	_, err = c.ReadAt(got, off)
	require.Nil(t, err)
	assert.Equal(t, payload, got)

	pos, err := c.ForceWrite(false)
	require.Nil(t, err)
	assert.Equal(t, off+int64(len(payload)), pos)

	got = make([]byte, len(payload))
	_, err = c.ReadAt(got, off)
	require.Nil(t, err)
	assert.Equal(t, payload, got)
}

func TestChannel_ReadPreallocatedZeros(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	c, err := journal.OpenChannel(dir, 7, testChannelOptions())
	require.Nil(t, err)
	defer c.Close()

	buf := make([]byte, 10)
	for i := range buf {
		buf[i] = 0xff
	}
	n, err := c.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, make([]byte, 10), buf)
}

func TestChannel_LazyWriter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeJournalFile(t, dir, 2, wal.V6)

	c, err := journal.OpenChannelForRead(dir, 2, 0, &fakeProvider{failFlag: os.O_WRONLY})
	require.Nil(t, err)

	_, err = c.Write([]byte("x"))
	assert.True(t, errors.Is(err, errInjected))
	_, err = c.Write([]byte("x"))
	assert.True(t, errors.Is(err, errInjected))
	assert.Nil(t, c.Close())

	// a working provider materializes the writer at the read cursor
	c, err = journal.OpenChannelForRead(dir, 2, 0, nil)
	require.Nil(t, err)
	_, err = c.Write(record("late"))
	require.Nil(t, err)
	_, err = c.ForceWrite(true)
	require.Nil(t, err)
	require.Nil(t, c.Close())
	assert.Equal(t, []string{"late"}, scanAll(t, dir))
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeJournalFile(t, dir, 2, wal.V6)

	c, err := journal.OpenChannelForRead(dir, 2, 0, nil)
	require.Nil(t, err)
	assert.Nil(t, c.Close())
	assert.Nil(t, c.Close())

	_, err = c.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, journal.ErrChannelClosed))

	w, err := journal.OpenChannel(dir, 3, testChannelOptions())
	require.Nil(t, err)
	assert.Nil(t, w.Close())
	assert.Nil(t, w.Close())
}

// flushFailProvider hands out files whose writes can be made to fail.
type flushFailProvider struct {
	fakeProvider
	file *failingWriteFile
}

func (p *flushFailProvider) Open(path string, flag int) (journal.File, error) {
	f, err := p.fakeProvider.Open(path, flag)
	if err != nil {
		return nil, err
	}
	p.file = &failingWriteFile{recordingFile: f.(*recordingFile), failAfter: 1 << 30}
	return p.file, nil
}

func TestChannel_CloseAfterFailedFlush(t *testing.T) {
	t.Parallel()
	p := &flushFailProvider{}
	opts := testChannelOptions()
	opts.Provider = p

	c, err := journal.OpenChannel(t.TempDir(), 1, opts)
	require.Nil(t, err)
	_, err = c.Write(record("lost"))
	require.Nil(t, err)

	p.file.failAfter = 0
	assert.True(t, errors.Is(c.Close(), errInjected))
	// the file is closed anyway
	assert.True(t, errors.Is(p.file.File.Close(), os.ErrClosed))
	assert.Nil(t, c.Close())
	_, err = c.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, journal.ErrChannelClosed))
}

func TestOpenChannel_ReplacedFileAlreadyRemoved(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := &fakeProvider{reuse: true}
	opts := testChannelOptions()
	opts.Provider = p
	replace := int64(1)
	opts.ReplaceID = &replace

	c, err := journal.OpenChannel(dir, 2, opts)
	require.Nil(t, err)
	defer c.Close()
	assert.False(t, c.Reused())
	assert.Empty(t, p.renames)
	assert.Equal(t, int64(wal.HeaderSize), c.Position())
	assert.Equal(t, []int64{2}, journal.ListJournalIDs(dir, nil))
}

func TestOpenChannel_ReusesReplacedFile(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		reuse      bool
		wantReused bool
	}{
		"provider supports reuse": {reuse: true, wantReused: true},
		"provider without reuse":  {reuse: false, wantReused: false},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			// stale content beyond the first extent
			old := make([]byte, 256*1024)
			for i := range old {
				old[i] = 0xee
			}
			require.Nil(t, os.WriteFile(wal.FilePath(dir, 1), old, 0o644))

			p := &fakeProvider{reuse: tt.reuse}
			opts := testChannelOptions()
			opts.Provider = p
			replace := int64(1)
			opts.ReplaceID = &replace

			c, err := journal.OpenChannel(dir, 2, opts)
			require.Nil(t, err)
			assert.Equal(t, tt.wantReused, c.Reused())
			require.Nil(t, c.PreAllocIfNeeded(8+wal.LengthSize))
			_, err = c.Write(record("new"))
			require.Nil(t, err)
			require.Nil(t, c.Close())

			_, err = os.Stat(wal.FilePath(dir, 1))
			if tt.wantReused {
				assert.True(t, errors.Is(err, fs.ErrNotExist))
				require.Len(t, p.renames, 1)
				assert.Equal(t, [2]string{wal.FilePath(dir, 1), wal.FilePath(dir, 2)}, p.renames[0])
				assert.Equal(t, []int64{2}, journal.ListJournalIDs(dir, nil))
			} else {
				assert.Nil(t, err)
				assert.Empty(t, p.renames)
			}

			var got []string
			_, err = journal.ScanJournal(dir, 2, 0, journal.ScannerFunc(func(_ int, _ int64, e []byte) error {
				got = append(got, string(e))
				return nil
			}), false, nil)
			require.Nil(t, err)
			assert.Equal(t, []string{"new"}, got)
		})
	}
}

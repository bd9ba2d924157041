//go:build linux

package journal

import (
	"golang.org/x/sys/unix"
)

type fder interface {
	Fd() uintptr
}

// pageCacheDropper advises the kernel that a byte range of a journal file will
// not be read again.
type pageCacheDropper interface {
	Drop(offset, length int64) error
}

type fadviseDropper struct {
	fd int
}

func (d fadviseDropper) Drop(offset, length int64) error {
	return unix.Fadvise(d.fd, offset, length, unix.FADV_DONTNEED)
}

// newPageCacheDropper returns nil when f has no OS descriptor.
func newPageCacheDropper(f File) pageCacheDropper {
	if fd, ok := f.(fder); ok {
		return fadviseDropper{fd: int(fd.Fd())}
	}
	return nil
}

// syncFile flushes f to disk. Data-only syncs skip the inode metadata when the
// file exposes its descriptor.
func syncFile(f File, metadata bool) error {
	if !metadata {
		if fd, ok := f.(fder); ok {
			return unix.Fdatasync(int(fd.Fd()))
		}
	}
	return f.Sync()
}

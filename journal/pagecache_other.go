//go:build !linux

package journal

type pageCacheDropper interface {
	Drop(offset, length int64) error
}

// page cache advice is only implemented on linux.
func newPageCacheDropper(File) pageCacheDropper {
	return nil
}

func syncFile(f File, _ bool) error {
	return f.Sync()
}

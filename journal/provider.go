package journal

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/ledgerd/bookie/utils/log"
)

// File is the part of *os.File a journal channel uses.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Stat() (os.FileInfo, error)
	Name() string
}

// FileProvider opens journal files. It is passed to the journal explicitly so
// tests and alternative storage backends can replace the filesystem.
type FileProvider interface {
	Open(path string, flag int) (File, error)
	// SupportsReuse reports whether retired journal files may be renamed into new ones.
	SupportsReuse() bool
	// NotifyRename is called after a retired journal file was renamed to path newPath.
	NotifyRename(oldPath, newPath string)
	Close() error
}

// Names accepted by NewFileProvider.
const (
	DefaultProvider   = "default"
	RecyclingProvider = "recycling"
)

// NewFileProvider returns the provider registered under name.
func NewFileProvider(name string) (FileProvider, error) {
	switch name {
	case "", DefaultProvider:
		return NewOSFileProvider(false), nil
	case RecyclingProvider:
		return NewOSFileProvider(true), nil
	default:
		return nil, fmt.Errorf("unknown journal file provider %q: %w", name, ErrInvalidArgument)
	}
}

// OSFileProvider opens journal files on the local filesystem.
type OSFileProvider struct {
	reuse bool
}

func NewOSFileProvider(reuse bool) *OSFileProvider {
	return &OSFileProvider{reuse: reuse}
}

func (p *OSFileProvider) Open(path string, flag int) (File, error) {
	const journalFilePerm = 0o644
	fp, err := os.OpenFile(path, flag, journalFilePerm)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal file %s", path)
	}
	return fp, nil
}

func (p *OSFileProvider) SupportsReuse() bool {
	return p.reuse
}

func (p *OSFileProvider) NotifyRename(oldPath, newPath string) {
	log.Debug("journal file %s renamed to %s", oldPath, newPath)
}

func (p *OSFileProvider) Close() error {
	return nil
}

package wal

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerd/bookie/utils/log"
)

// Extension is the suffix of every journal file.
const Extension = ".txn"

// FileName returns the name of the journal file with the given id: the id in
// lowercase hex followed by Extension.
func FileName(id int64) string {
	return strconv.FormatUint(uint64(id), 16) + Extension
}

// FilePath joins dir and FileName(id).
func FilePath(dir string, id int64) string {
	return filepath.Join(dir, FileName(id))
}

// ParseFileName returns the journal id encoded in a journal file name.
func ParseFileName(name string) (int64, bool) {
	if !strings.HasSuffix(name, Extension) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, Extension), 16, 64)
	if err != nil {
		return 0, false
	}
	return int64(id), true
}

type Finder struct {
	dirRead func(name string) ([]os.DirEntry, error)
}

func NewFinder(dirRead func(name string) ([]os.DirEntry, error)) *Finder {
	return &Finder{dirRead: dirRead}
}

// FindIDs returns the ids of all journal files directly under dir accepted by
// filter (every id when filter is nil), in ascending order. A directory that
// cannot be listed has no journal files.
func (f *Finder) FindIDs(dir string, filter func(id int64) bool) []int64 {
	files, err := f.dirRead(dir)
	if err != nil {
		log.Debug("unable to read the journal directory %s: %v", dir, err)
		return []int64{}
	}

	ret := make([]int64, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		id, ok := ParseFileName(file.Name())
		if !ok {
			continue
		}
		if filter != nil && !filter(id) {
			continue
		}
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

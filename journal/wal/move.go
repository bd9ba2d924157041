package wal

import (
	"fmt"
	"os"

	"github.com/ledgerd/bookie/utils/log"
)

// Recycle renames the journal oldID in dir to newID and returns both paths.
// The file keeps its old contents; callers rewrite the header.
func Recycle(dir string, oldID, newID int64) (oldPath, newPath string, err error) {
	oldPath, newPath = FilePath(dir, oldID), FilePath(dir, newID)
	if err = os.Rename(oldPath, newPath); err != nil {
		return oldPath, newPath, fmt.Errorf("recycle journal %s as %s: %w", FileName(oldID), FileName(newID), err)
	}
	log.Info("recycled journal %s as %s", FileName(oldID), FileName(newID))
	return oldPath, newPath, nil
}

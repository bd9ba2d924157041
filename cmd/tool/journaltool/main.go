// Package journaltool inspects and repairs the journal files of a stopped bookie.
package journaltool

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/journal/wal"
)

const (
	usage   = "journal"
	short   = "Inspect journal files"
	long    = "This command lists, scans and verifies the journal files of a journal directory"
	example = "bookie tool journal scan --dir <path> --match '18f*.txn' --csv"

	dirDesc   = "set filesystem path of the journal directory"
	matchDesc = "only use journal files whose name matches this glob pattern"
	idDesc    = "only use the journal file with this hex id"
)

var (
	// Cmd is the journal tool command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"j", "txn"},
		Example: example,
	}

	journalDir string
	match      string
	journalID  string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.PersistentFlags().StringVarP(&journalDir, "dir", "d", "", dirDesc)
	_ = Cmd.MarkPersistentFlagRequired("dir")
	Cmd.PersistentFlags().StringVarP(&match, "match", "m", "", matchDesc)
	Cmd.PersistentFlags().StringVar(&journalID, "id", "", idDesc)

	Cmd.AddCommand(listCmd, scanCmd, verifyCmd, lastMarkCmd)
}

// selector picks journal files by name pattern and id.
type selector struct {
	dir   string
	match glob.Glob
	id    *int64
}

func newSelector(dir, pattern, hexID string) (*selector, error) {
	s := &selector{dir: filepath.Clean(dir)}
	if pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid --match pattern %q: %w", pattern, err)
		}
		s.match = g
	}
	if hexID != "" {
		u, err := strconv.ParseUint(hexID, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --id %q: %w", hexID, err)
		}
		id := int64(u)
		s.id = &id
	}
	return s, nil
}

func (s *selector) ids() []int64 {
	return journal.ListJournalIDs(s.dir, func(id int64) bool {
		if s.id != nil && id != *s.id {
			return false
		}
		return s.match == nil || s.match.Match(wal.FileName(id))
	})
}

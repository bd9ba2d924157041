package journaltool

import (
	"fmt"
	"io"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/journal/wal"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List journal files with their format version and size",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newSelector(journalDir, match, journalID)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		return listJournals(cmd.OutOrStdout(), s)
	},
}

func listJournals(w io.Writer, s *selector) error {
	var total int64
	ids := s.ids()
	for _, id := range ids {
		fp := wal.FilePath(s.dir, id)
		fi, err := os.Stat(fp)
		if err != nil {
			return err
		}
		c, err := journal.OpenChannelForRead(s.dir, id, 0, nil)
		if err != nil {
			fmt.Fprintf(w, "%s\t%d\t-\t%s\t%v\n", wal.FileName(id), id, bytefmt.ByteSize(uint64(fi.Size())), err)
			continue
		}
		version := c.FormatVersion()
		_ = c.Close()

		fmt.Fprintf(w, "%s\t%d\tV%d\t%s\n", wal.FileName(id), id, version, bytefmt.ByteSize(uint64(fi.Size())))
		total += fi.Size()
	}
	fmt.Fprintf(w, "%d journal files, %s\n", len(ids), bytefmt.ByteSize(uint64(total)))
	return nil
}

package journaltool

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/journal/wal"
)

var lastMarkCmd = &cobra.Command{
	Use:   "lastmark",
	Short: "Print the persisted last log mark",
	Long:  "This command prints the last log mark persisted in --dir, which may be a ledger directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		return printLastMark(cmd.OutOrStdout(), filepath.Clean(journalDir))
	},
}

func printLastMark(w io.Writer, dir string) error {
	mark, err := journal.ReadLastMark(dir)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%v\tjournal=%s\n", mark, wal.FileName(mark.LogFileID))
	return err
}
